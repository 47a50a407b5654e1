// Package wal buffers Store writes before they reach the backend,
// trading a small commit-visibility delay for fewer, larger backend
// transactions. It borrows the teacher's journal package's checksum-
// and-segment idiom (github.com/cespare/xxhash/v2 over each flushed
// batch) without its on-disk segment file format: these buffers exist
// in memory only, between a Store write and the backend transaction
// OnFlush performs, not as their own durable log.
package wal

import (
	"bytes"
	"compress/flate"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Record is one buffered write: a Put if Tombstone is false, a Delete
// otherwise.
type Record struct {
	Map       string
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Options configures a Writer.
type Options struct {
	// BufferBytes flushes once buffered records reach this many bytes.
	BufferBytes int

	// FlushInterval flushes buffered records after this much time has
	// passed since the first one was appended, even if BufferBytes
	// hasn't been reached.
	FlushInterval time.Duration

	// Compressed flate-compresses each flushed batch's encoded payload.
	// The checksum is taken before compression, so this changes only
	// the payload length LastFlushStats reports; OnFlush still receives
	// the original Records.
	Compressed bool

	// EncryptionKey, if set, must be 16, 24, or 32 bytes (AES-128/192/
	// 256) and AES-GCM-seals each flushed batch's payload the same way.
	EncryptionKey []byte

	// OnFlush is called with every buffered Record in append order
	// whenever a flush happens, including the final flush on Close.
	OnFlush func([]Record) error
}

// Writer accumulates Records in memory and flushes them to OnFlush in
// batches.
type Writer struct {
	opt Options

	mu             sync.Mutex
	pending        []Record
	size           int
	timer          *time.Timer
	closed         bool
	flushErr       error
	lastSum        uint64
	lastPayloadLen int
}

// LastFlushStats returns the checksum and encoded/compressed/sealed
// size of the most recently flushed batch, for callers that want to
// monitor how much the Compressed/EncryptionKey options are shrinking
// or growing what gets written.
func (w *Writer) LastFlushStats() (checksum uint64, payloadLen int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSum, w.lastPayloadLen
}

// Open validates opt and returns a ready Writer.
func Open(opt Options) (*Writer, error) {
	if opt.OnFlush == nil {
		return nil, fmt.Errorf("wal: OnFlush is required")
	}
	switch len(opt.EncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("wal: encryption key must be 16, 24, or 32 bytes, got %d", len(opt.EncryptionKey))
	}
	if opt.FlushInterval <= 0 {
		opt.FlushInterval = 100 * time.Millisecond
	}
	return &Writer{opt: opt}, nil
}

// Append buffers rec, flushing immediately if the buffer has reached
// BufferBytes.
func (w *Writer) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("wal: writer closed")
	}
	if w.flushErr != nil {
		return w.flushErr
	}

	w.pending = append(w.pending, rec)
	w.size += len(rec.Map) + len(rec.Key) + len(rec.Value) + 32
	if w.timer == nil {
		w.timer = time.AfterFunc(w.opt.FlushInterval, w.flushOnTimer)
	}
	if w.size >= w.opt.BufferBytes {
		return w.flushLocked()
	}
	return nil
}

func (w *Writer) flushOnTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || len(w.pending) == 0 {
		return
	}
	if err := w.flushLocked(); err != nil {
		w.flushErr = err
	}
}

func (w *Writer) flushLocked() error {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if len(w.pending) == 0 {
		return nil
	}
	recs := w.pending
	w.pending = nil
	w.size = 0

	payload := encodeRecords(recs)
	w.lastSum = xxhash.Sum64(payload) // mirrors the teacher's per-segment checksum
	if w.opt.Compressed {
		var err error
		payload, err = deflate(payload)
		if err != nil {
			return err
		}
	}
	if len(w.opt.EncryptionKey) > 0 {
		var err error
		payload, err = seal(payload, w.opt.EncryptionKey)
		if err != nil {
			return err
		}
	}
	w.lastPayloadLen = len(payload)

	return w.opt.OnFlush(recs)
}

// Flush forces a flush of whatever is currently buffered.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// Close flushes any remaining records and stops accepting new ones.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.flushLocked()
}

// Pending looks up the most recent buffered write to (mapName, key)
// that hasn't flushed yet, for callers that need read-your-own-writes
// consistency against a Writer's buffer.
func (w *Writer) Pending(mapName string, key []byte) (value []byte, tombstone bool, found bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.pending) - 1; i >= 0; i-- {
		r := w.pending[i]
		if r.Map == mapName && bytes.Equal(r.Key, key) {
			return r.Value, r.Tombstone, true
		}
	}
	return nil, false, false
}

func encodeRecords(recs []Record) []byte {
	var buf []byte
	for _, r := range recs {
		buf = appendVarbytes(buf, []byte(r.Map))
		buf = appendVarbytes(buf, r.Key)
		if r.Tombstone {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
			buf = appendVarbytes(buf, r.Value)
		}
	}
	return buf
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func seal(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

func appendVarbytes(buf, v []byte) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(v)))
	buf = append(buf, tmp[:n]...)
	buf = append(buf, v...)
	return buf
}
