package docdb

import (
	"bytes"
	"encoding/binary"
	"time"
)

// Key is an immutable byte string with a total order: lexicographic,
// unsigned-byte comparison, with the shorter string winning on a
// prefix match. Start and End are sentinels outside that order: Start
// compares less than every real key, End compares greater than every
// real key, and each compares equal only to itself.
type Key struct {
	raw     []byte
	sentype sentinel
}

type sentinel int8

const (
	sentinelNone sentinel = 0
	sentinelLow  sentinel = -1
	sentinelHigh sentinel = 1
)

// Start is the sentinel strictly less than any real key.
var Start = Key{sentype: sentinelLow}

// End is the sentinel strictly greater than any real key.
var End = Key{sentype: sentinelHigh}

// KeyFromBytes wraps raw bytes as a real (non-sentinel) Key. The slice
// is retained, not copied; callers should not mutate it afterwards.
func KeyFromBytes(raw []byte) Key {
	return Key{raw: raw}
}

// Bytes returns the raw byte representation. Sentinels have no bytes;
// calling Bytes on Start or End panics.
func (k Key) Bytes() []byte {
	if k.sentype != sentinelNone {
		panic("docdb: sentinel key has no byte representation")
	}
	return k.raw
}

// IsSentinel reports whether k is Start or End.
func (k Key) IsSentinel() bool {
	return k.sentype != sentinelNone
}

func (k Key) String() string {
	switch k.sentype {
	case sentinelLow:
		return "<start>"
	case sentinelHigh:
		return "<end>"
	default:
		return string(k.raw)
	}
}

// Equals reports whether two keys denote the same position.
func (k Key) Equals(other Key) bool {
	return k.Compare(other) == 0
}

// Compare returns -1, 0, or 1 per the total order described on Key.
func (k Key) Compare(other Key) int {
	if k.sentype != sentinelNone || other.sentype != sentinelNone {
		return compareSentinels(k.sentype, other.sentype)
	}
	return bytes.Compare(k.raw, other.raw)
}

func compareSentinels(a, b sentinel) int {
	if a == b {
		return 0
	}
	av, bv := sentinelRank(a), sentinelRank(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// sentinelRank gives Start the lowest rank, End the highest, and real
// keys (sentinelNone) a rank in between -- used only when at least one
// side of a Compare is a sentinel.
func sentinelRank(s sentinel) int {
	switch s {
	case sentinelLow:
		return -1
	case sentinelHigh:
		return 1
	default:
		return 0
	}
}

// IsPrefixOf reports whether k's bytes are a prefix of other's bytes.
// Sentinels are never a prefix of a real key, and a real key is never
// a prefix of a sentinel.
func (k Key) IsPrefixOf(other Key) bool {
	if k.sentype != sentinelNone || other.sentype != sentinelNone {
		return false
	}
	return len(k.raw) <= len(other.raw) && bytes.Equal(k.raw, other.raw[:len(k.raw)])
}

// KeyBuilder composes a composite Key from big-endian encoded parts,
// most-significant part first. The zero value is ready to use.
type KeyBuilder struct {
	buf []byte
}

// NewKeyBuilder returns an empty builder backed by a pooled scratch
// buffer.
func NewKeyBuilder() *KeyBuilder {
	return &KeyBuilder{buf: keyBytesPool.Get().([]byte)}
}

// Release returns the builder's scratch buffer to the shared pool.
// Safe to call on a builder whose Key() has already been taken, since
// Key() clones the bytes it returns.
func (b *KeyBuilder) Release() {
	if b.buf != nil {
		keyBytesPool.Put(b.buf[:0])
		b.buf = nil
	}
}

// Int32 appends a big-endian signed 32-bit integer.
func (b *KeyBuilder) Int32(v int32) *KeyBuilder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	b.buf = appendRaw(b.buf, tmp[:])
	return b
}

// Int64 appends a big-endian signed 64-bit integer.
func (b *KeyBuilder) Int64(v int64) *KeyBuilder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.buf = appendRaw(b.buf, tmp[:])
	return b
}

// Time appends the epoch-millisecond encoding of t as a big-endian
// 64-bit integer.
func (b *KeyBuilder) Time(t time.Time) *KeyBuilder {
	return b.Int64(t.UnixMilli())
}

// String appends the raw UTF-8 bytes of s, with no length prefix.
// Because there is no length prefix, a String part should be the last
// part of a composite key; putting a variable-length part anywhere
// but last makes the composite ambiguous (see DESIGN.md).
func (b *KeyBuilder) String(s string) *KeyBuilder {
	b.buf = appendRaw(b.buf, []byte(s))
	return b
}

// Bytes appends raw bytes verbatim, with no length prefix. Same
// ambiguity caveat as String.
func (b *KeyBuilder) Bytes(raw []byte) *KeyBuilder {
	b.buf = appendRaw(b.buf, raw)
	return b
}

// Key materializes the accumulated bytes into a Key, cloning them so
// the builder's internal buffer can be reused or released.
func (b *KeyBuilder) Key() Key {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return KeyFromBytes(out)
}

// ComposeKey is a convenience one-shot equivalent of building parts
// with KeyBuilder and taking Key() immediately.
func ComposeKey(parts ...any) Key {
	b := NewKeyBuilder()
	defer b.Release()
	for _, p := range parts {
		switch v := p.(type) {
		case int32:
			b.Int32(v)
		case int:
			b.Int64(int64(v))
		case int64:
			b.Int64(v)
		case string:
			b.String(v)
		case []byte:
			b.Bytes(v)
		case time.Time:
			b.Time(v)
		default:
			panic("docdb: unsupported key part type")
		}
	}
	return b.Key()
}
