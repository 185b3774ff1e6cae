package pebblestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways requests a WAL fsync on each committed batch/write.
	FsyncModeAlways
	// FsyncModeInterval enables group-commit by allowing Pebble to coalesce WAL
	// syncs for operations within the configured interval.
	FsyncModeInterval
	// FsyncModeNever avoids forcing WAL syncs from the application.
	FsyncModeNever
)

// ParseFsyncMode maps always|interval|never to a FsyncMode. Unknown values
// yield FsyncModeUnspecified.
func ParseFsyncMode(s string) FsyncMode {
	switch s {
	case "always":
		return FsyncModeAlways
	case "interval":
		return FsyncModeInterval
	case "never":
		return FsyncModeNever
	default:
		return FsyncModeUnspecified
	}
}

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = pebble.ErrNotFound
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("pebble: store closed")
)

// Options configures the Pebble store wrapper.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL.
	Fsync FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// PebbleOptions allows advanced tuning of Pebble. If nil, defaults are used.
	PebbleOptions *pebble.Options
	// Metrics observes read and commit sizes. Optional.
	Metrics MetricsHook
}

// MetricsHook is a minimal hook surface for storage observations.
type MetricsHook interface {
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveScan(elapsed time.Duration, keys int)
	ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveRead(time.Duration, int)             {}
func (NoopMetrics) ObserveScan(time.Duration, int)             {}
func (NoopMetrics) ObserveBatchCommit(time.Duration, int, int) {}

// DB wraps a Pebble database instance with fsync policy and basic helpers.
// Operations after Close return ErrClosed instead of panicking.
type DB struct {
	mu        sync.RWMutex
	inner     *pebble.DB
	closed    bool
	writeSync bool
	metrics   MetricsHook
}

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	switch opts.Fsync {
	case FsyncModeAlways:
		// Sync is requested per commit.
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		interval := opts.FsyncInterval
		po.WALMinSyncInterval = func() time.Duration { return interval }
	case FsyncModeNever:
	default:
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &DB{
		inner:     inner,
		writeSync: opts.Fsync == FsyncModeAlways,
		metrics:   metrics,
	}, nil
}

// Close closes the Pebble database. Calling Close twice is a no-op.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed || db.inner == nil {
		return nil
	}
	db.closed = true
	return db.inner.Close()
}

// Closed reports whether Close has been called.
func (db *DB) Closed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// Update runs fn against a fresh batch and commits it atomically with the
// configured fsync policy. The batch must not be retained after fn returns.
func (db *DB) Update(ctx context.Context, fn func(b *pebble.Batch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	b := db.inner.NewBatch()
	defer b.Close()
	if err := fn(b); err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	start := time.Now()
	size := b.Len()
	ops := int(b.Count())

	syncMode := pebble.NoSync
	if db.writeSync {
		syncMode = pebble.Sync
	}
	err := b.Commit(syncMode)
	db.metrics.ObserveBatchCommit(time.Since(start), ops, size)
	return err
}

// Set sets a single key.
func (db *DB) Set(key, value []byte) error {
	return db.Update(context.Background(), func(b *pebble.Batch) error {
		return b.Set(key, value, nil)
	})
}

// Delete removes a single key.
func (db *DB) Delete(key []byte) error {
	return db.Update(context.Background(), func(b *pebble.Batch) error {
		return b.Delete(key, nil)
	})
}

// Get copies the value for the given key. Missing keys yield ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	start := time.Now()
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	buf := append([]byte(nil), val...)
	db.metrics.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}

// Has reports whether key exists.
func (db *DB) Has(key []byte) (bool, error) {
	_, err := db.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// ScanOptions bounds a range scan. Upper is exclusive; a nil Upper scans to
// the end of Prefix when Prefix is set.
type ScanOptions struct {
	Prefix  []byte
	Lower   []byte
	Upper   []byte
	Reverse bool
	Limit   int
}

// Scan iterates keys in range order (or reverse order), calling fn with
// borrowed key/value slices that are only valid during the call. Returning
// false from fn stops the scan.
func (db *DB) Scan(opts ScanOptions, fn func(key, value []byte) bool) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	lower, upper := opts.Lower, opts.Upper
	if len(opts.Prefix) > 0 {
		if lower == nil {
			lower = opts.Prefix
		}
		if upper == nil {
			upper = PrefixUpperBound(opts.Prefix)
		}
	}
	it, err := db.inner.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer it.Close()

	start := time.Now()
	n := 0
	advance := it.Next
	valid := it.First()
	if opts.Reverse {
		advance = it.Prev
		valid = it.Last()
	}
	for ; valid; valid = advance() {
		if opts.Limit > 0 && n >= opts.Limit {
			break
		}
		n++
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	db.metrics.ObserveScan(time.Since(start), n)
	return it.Error()
}

// PrefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists.
func PrefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// CompactRange requests compaction of the key range [start, end).
func (db *DB) CompactRange(start, end []byte) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return db.inner.Compact(start, end, true)
}
