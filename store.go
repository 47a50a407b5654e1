package docdb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	"go.etcd.io/bbolt"

	"github.com/kvdoc/docdb/wal"
)

// Store owns one KVBackend (Bolt on disk, an in-memory B-tree with an
// empty Filename) and every Collection opened against it. It tracks
// open transactions so Close can refuse to tear down the backend out
// from under an in-flight caller, the way the teacher's DB.txns
// bookkeeping does.
type Store struct {
	backend KVBackend
	bdb     *bbolt.DB // nil for the in-memory backend
	opt     Options
	logger  *slog.Logger

	autoCommit *wal.Writer // nil unless Options.AutoCommitBufferKB > 0

	collections *xsync.MapOf[string, *Collection]

	txnsLock sync.Mutex
	txns     []*txHandle

	metricReads   *metrics.Counter
	metricWrites  *metrics.Counter
	metricCommits *metrics.Counter
}

// Options configures Open.
type Options struct {
	// Filename is the Bolt database file path. An empty Filename opens
	// a transient in-memory backend instead, useful for tests.
	Filename string

	// Compressed enables flate compression of autocommit buffer
	// segments (see AutoCommitBufferKB). It has no effect on the main
	// Bolt pages, which Bolt itself never compresses.
	Compressed bool

	// ReadCacheMB sizes Bolt's initial mmap, trading startup memory for
	// fewer mmap remaps as the file grows. Zero picks Bolt's default.
	ReadCacheMB int

	// AutoCommitBufferKB, when nonzero, buffers Tx.SetRawKey and
	// Tx.DeleteRawKey writes in an in-memory buffer instead of applying
	// each one inside its own transaction, flushing once the buffer
	// reaches this size or AutoCommitDelayMS elapses, whichever comes
	// first. Zero disables buffering. Collection writes are never
	// buffered: each one is its own backend commit either way.
	AutoCommitBufferKB int

	// AutoCommitDelayMS is the buffering time limit described above.
	// Defaults to 100ms if AutoCommitBufferKB is set and this is zero.
	AutoCommitDelayMS int

	// EncryptionKey, when set, AES-GCM-seals each flushed autocommit
	// batch's encoded payload. The buffer lives in memory only, so the
	// sealed payload is never written anywhere; like Compressed, this
	// does not touch the Bolt file itself.
	EncryptionKey []byte

	// Logf receives diagnostic log lines, following the teacher's
	// convention of a plain printf-style hook rather than forcing a
	// particular logger on every caller. Open also attaches a
	// slog.Logger derived from this for the Store's diagnostic lines.
	Logf func(format string, args ...any)
}

// Open opens (creating if necessary) the backend named by opt, running
// no collection-level setup -- collections are created lazily by
// Collection.
func Open(opt Options) (*Store, error) {
	var backend KVBackend
	var bdb *bbolt.DB

	if opt.Filename == "" {
		backend = newMemBackend()
	} else {
		bopt := *bbolt.DefaultOptions
		if opt.ReadCacheMB > 0 {
			bopt.InitialMmapSize = opt.ReadCacheMB * 1024 * 1024
		}
		var err error
		bdb, err = bbolt.Open(opt.Filename, 0600, &bopt)
		if err != nil {
			return nil, fmt.Errorf("docdb: open %s: %w", opt.Filename, err)
		}
		backend = newBoltBackend(bdb)
	}

	s := &Store{
		backend:     backend,
		bdb:         bdb,
		opt:         opt,
		logger:      newStoreLogger(opt.Logf),
		collections: xsync.NewMapOf[string, *Collection](),

		metricReads:   metrics.GetOrCreateCounter(fmt.Sprintf(`docdb_reads_total{db=%q}`, opt.Filename)),
		metricWrites:  metrics.GetOrCreateCounter(fmt.Sprintf(`docdb_writes_total{db=%q}`, opt.Filename)),
		metricCommits: metrics.GetOrCreateCounter(fmt.Sprintf(`docdb_commits_total{db=%q}`, opt.Filename)),
	}

	if opt.AutoCommitBufferKB > 0 {
		delay := time.Duration(opt.AutoCommitDelayMS) * time.Millisecond
		if delay <= 0 {
			delay = 100 * time.Millisecond
		}
		w, err := wal.Open(wal.Options{
			BufferBytes:   opt.AutoCommitBufferKB * 1024,
			FlushInterval: delay,
			Compressed:    opt.Compressed,
			EncryptionKey: opt.EncryptionKey,
			OnFlush:       s.flushAutoCommit,
		})
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("docdb: open autocommit buffer: %w", err)
		}
		s.autoCommit = w
	}

	return s, nil
}

// newStoreLogger builds the slog.Logger the Store's diagnostic lines
// go through. When Options.Logf is set, diagnostics route through it
// (the teacher's plain printf-style hook, for callers who don't want
// to hand this library a particular logging framework); otherwise
// they go to a default stderr text handler.
func newStoreLogger(logf func(format string, args ...any)) *slog.Logger {
	if logf == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(&logfHandler{logf: logf})
}

// logfHandler adapts a printf-style hook to slog.Handler, formatting
// each record as "msg key=value key=value ...".
type logfHandler struct {
	logf  func(format string, args ...any)
	attrs []slog.Attr
}

func (h *logfHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *logfHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder
	buf.WriteString(r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&buf, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&buf, " %s=%v", a.Key, a.Value)
		return true
	})
	h.logf("%s", buf.String())
	return nil
}

func (h *logfHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logfHandler{logf: h.logf, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *logfHandler) WithGroup(string) slog.Handler { return h }

// flushAutoCommit replays buffered records as a single backend
// transaction; it is the wal.Writer's OnFlush callback.
func (s *Store) flushAutoCommit(records []wal.Record) error {
	tx, err := s.backend.Begin(true)
	if err != nil {
		return err
	}
	for _, rec := range records {
		m, err := tx.CreateMapIfNotExists(rec.Map)
		if err != nil {
			tx.Rollback()
			return err
		}
		if rec.Tombstone {
			if err := m.Delete(rec.Key); err != nil {
				tx.Rollback()
				return err
			}
			continue
		}
		if err := m.Put(rec.Key, rec.Value); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Collection opens (or returns the already-open) Collection with the
// given name and Codec. The Codec of the first call wins; later calls
// with the same name return the cached Collection regardless of the
// Codec they pass, matching how a Bolt bucket has one shape for the
// lifetime of the process that opened it.
func (s *Store) Collection(name string, codec Codec) (*Collection, error) {
	if c, ok := s.collections.Load(name); ok {
		return c, nil
	}
	c, err := newCollection(s, name, codec)
	if err != nil {
		return nil, err
	}
	actual, _ := s.collections.LoadOrStore(name, c)
	return actual, nil
}

// ListCollections returns the names of every Collection opened so far
// in this process, sorted for reproducible output. It reflects the
// in-process registry, not a backend-level enumeration -- a
// collection whose maps exist on disk but has never been opened via
// Collection in this process won't appear here.
func (s *Store) ListCollections() []string {
	var names []string
	s.collections.Range(func(name string, _ *Collection) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

// DeleteMap drops a single backend map (a collection's primary map, a
// secondary index, or a spatial index) by its exact name. After its
// primary map is deleted, an open *Collection reads as empty and its
// next write creates the map afresh; the collection's secondary and
// spatial maps are left in place unless deleted by name as well.
func (s *Store) DeleteMap(name string) error {
	tx, err := s.begin(true)
	if err != nil {
		return err
	}
	defer tx.rollbackUnlessDone()
	if err := tx.btx.DeleteMap(name); err != nil {
		return backendErrf("delete map", err)
	}
	return tx.commit()
}

// Size returns the backend's on-disk size in bytes, 0 for the
// in-memory backend.
func (s *Store) Size() int64 {
	if s.bdb == nil {
		return 0
	}
	btx, err := s.bdb.Begin(false)
	if err != nil {
		return 0
	}
	defer btx.Rollback()
	return btx.Size()
}

// Commit flushes any pending autocommit buffer into the backend right
// away. Collection writes commit as they happen, so with no buffer
// configured there is nothing to flush.
func (s *Store) Commit() error {
	if s.autoCommit == nil {
		return nil
	}
	return s.autoCommit.Flush()
}

// Close flushes any pending autocommit buffer and closes the backend.
// It refuses with *OpenTransactionsError if any transaction begun via
// this Store is still open.
func (s *Store) Close() error {
	s.txnsLock.Lock()
	n := len(s.txns)
	detail := s.describeOpenTxnsLocked()
	s.txnsLock.Unlock()
	if n > 0 {
		return &OpenTransactionsError{Count: n, Detail: detail}
	}
	if s.autoCommit != nil {
		if err := s.autoCommit.Close(); err != nil {
			return fmt.Errorf("docdb: closing autocommit buffer: %w", err)
		}
	}
	return s.backend.Close()
}

// DescribeOpenTransactions reports one line per currently open
// transaction (how long it has been open, whether it's writable), the
// same detail an *OpenTransactionsError from Close carries -- useful
// for diagnosing a stuck Close without waiting for it to fail first.
func (s *Store) DescribeOpenTransactions() string {
	s.txnsLock.Lock()
	defer s.txnsLock.Unlock()
	return s.describeOpenTxnsLocked()
}

func (s *Store) describeOpenTxnsLocked() string {
	if len(s.txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}
	now := time.Now()
	var buf strings.Builder
	for _, tx := range s.txns {
		fmt.Fprintf(&buf, "- open for %s, writable=%v\n", now.Sub(tx.startTime), tx.btx.Writable())
	}
	return buf.String()
}

// txHandle tracks one in-flight backend transaction for the
// OpenTransactionsError accounting above.
type txHandle struct {
	store     *Store
	btx       BackendTx
	startTime time.Time
	done      bool
}

func (s *Store) begin(writable bool) (*txHandle, error) {
	btx, err := s.backend.Begin(writable)
	if err != nil {
		return nil, backendErrf("begin", err)
	}
	tx := &txHandle{store: s, btx: btx, startTime: time.Now()}
	s.addTxn(tx)
	if writable {
		s.metricWrites.Inc()
	} else {
		s.metricReads.Inc()
	}
	return tx, nil
}

func (tx *txHandle) commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.removeTxn(tx)
	if err := tx.btx.Commit(); err != nil {
		return backendErrf("commit", err)
	}
	tx.store.metricCommits.Inc()
	return nil
}

// rollbackUnlessDone is the defer-friendly counterpart of commit: a
// no-op once commit (or a prior rollback) has already run.
func (tx *txHandle) rollbackUnlessDone() {
	if tx.done {
		return
	}
	tx.done = true
	tx.store.removeTxn(tx)
	tx.btx.Rollback()
}

func (s *Store) addTxn(tx *txHandle) {
	s.txnsLock.Lock()
	defer s.txnsLock.Unlock()
	s.txns = append(s.txns, tx)
}

func (s *Store) removeTxn(tx *txHandle) {
	s.txnsLock.Lock()
	defer s.txnsLock.Unlock()
	for i, t := range s.txns {
		if t == tx {
			n := len(s.txns)
			s.txns[i] = s.txns[n-1]
			s.txns[n-1] = nil
			s.txns = s.txns[:n-1]
			return
		}
	}
}
