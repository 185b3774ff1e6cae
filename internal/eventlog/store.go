package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	"github.com/rzbill/pulse/pkg/id"
)

var (
	// ErrNoSuchStream is returned when a group operation targets a stream that
	// was never written.
	ErrNoSuchStream = errors.New("ERR no such key")
	// ErrGroupExists is returned by CreateGroup for an existing group.
	ErrGroupExists = errors.New("BUSYGROUP Consumer Group name already exists")
	// ErrNoGroup is returned by ReadGroup for an unknown group.
	ErrNoGroup = errors.New("NOGROUP No such consumer group")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("eventlog: store closed")
)

// Entry is one stream record.
type Entry struct {
	ID     id.ID
	Fields map[string]string
}

// Store serves every stream persisted in one Pebble database.
type Store struct {
	db   *pebblestore.DB
	hook TrimHook

	mu      sync.Mutex
	streams map[string]*streamState

	closeOnce sync.Once
	done      chan struct{}
}

// streamState caches a stream's metadata and wakes blocked readers. Its mutex
// serializes every mutation of the stream (appends, trims, group reads).
type streamState struct {
	mu       sync.Mutex
	loaded   bool
	meta     streamMeta
	notifyCh chan struct{}
}

type streamMeta struct {
	exists bool
	lastID id.ID
	length int64
}

// Option customizes a Store.
type Option func(*Store)

// WithTrimHook registers a hook called after trims delete entries.
func WithTrimHook(h TrimHook) Option {
	return func(s *Store) {
		if h != nil {
			s.hook = h
		}
	}
}

// Open returns a Store over db. Stream state is loaded lazily.
func Open(db *pebblestore.DB, opts ...Option) *Store {
	s := &Store{
		db:      db,
		hook:    noopTrimHook{},
		streams: make(map[string]*streamState),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close wakes every blocked reader. The underlying DB is owned by the caller.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Store) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Store) state(stream string) *streamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[stream]
	if !ok {
		st = &streamState{notifyCh: make(chan struct{})}
		s.streams[stream] = st
	}
	return st
}

// load reads the stream meta once. Caller holds st.mu.
func (s *Store) load(stream string, st *streamState) error {
	if st.loaded {
		return nil
	}
	raw, err := s.db.Get(KeyStreamMeta(stream))
	switch {
	case err == nil:
		m, derr := decodeMeta(raw)
		if derr != nil {
			return fmt.Errorf("eventlog: stream %q: %w", stream, derr)
		}
		st.meta = m
	case errors.Is(err, pebblestore.ErrNotFound):
		st.meta = streamMeta{}
	default:
		return err
	}
	st.loaded = true
	return nil
}

func (s *Store) locked(stream string, fn func(st *streamState) error) error {
	if s.closed() {
		return ErrClosed
	}
	st := s.state(stream)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := s.load(stream, st); err != nil {
		return err
	}
	return fn(st)
}

// waitChan returns the channel closed by the next append to stream.
func (st *streamState) waitChan() <-chan struct{} {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.notifyCh
}

// notify wakes waiters. Caller holds st.mu.
func (st *streamState) notify() {
	close(st.notifyCh)
	st.notifyCh = make(chan struct{})
}

// Append adds one record and returns its assigned ID.
func (s *Store) Append(ctx context.Context, stream string, fields map[string]string) (id.ID, error) {
	var rid id.ID
	err := s.locked(stream, func(st *streamState) error {
		next := id.NextAfter(st.meta.lastID)
		m := streamMeta{exists: true, lastID: next, length: st.meta.length + 1}
		err := s.db.Update(ctx, func(b *pebble.Batch) error {
			if err := b.Set(KeyEntry(stream, next), encodeEntry(fields), nil); err != nil {
				return err
			}
			return b.Set(KeyStreamMeta(stream), encodeMeta(m), nil)
		})
		if err != nil {
			return err
		}
		st.meta = m
		rid = next
		st.notify()
		return nil
	})
	return rid, err
}

// Delete removes the given entries and returns how many existed. The stream
// itself, its groups and its last ID survive even when it becomes empty.
func (s *Store) Delete(ctx context.Context, stream string, ids ...id.ID) (int, error) {
	deleted := 0
	err := s.locked(stream, func(st *streamState) error {
		if !st.meta.exists || len(ids) == 0 {
			return nil
		}
		var present []id.ID
		for _, rid := range uniqueIDs(ids) {
			ok, err := s.db.Has(KeyEntry(stream, rid))
			if err != nil {
				return err
			}
			if ok {
				present = append(present, rid)
			}
		}
		if len(present) == 0 {
			return nil
		}
		m := st.meta
		m.length -= int64(len(present))
		err := s.db.Update(ctx, func(b *pebble.Batch) error {
			for _, rid := range present {
				if err := b.Delete(KeyEntry(stream, rid), nil); err != nil {
					return err
				}
			}
			return b.Set(KeyStreamMeta(stream), encodeMeta(m), nil)
		})
		if err != nil {
			return err
		}
		st.meta = m
		deleted = len(present)
		return nil
	})
	return deleted, err
}

// StreamInfo summarizes a stream.
type StreamInfo struct {
	Exists  bool
	Length  int64
	LastID  id.ID
	FirstID id.ID
	Groups  []GroupInfo
}

// Info returns the stream summary including its groups.
func (s *Store) Info(stream string) (StreamInfo, error) {
	var info StreamInfo
	err := s.locked(stream, func(st *streamState) error {
		info.Exists = st.meta.exists
		info.Length = st.meta.length
		info.LastID = st.meta.lastID
		return nil
	})
	if err != nil || !info.Exists {
		return info, err
	}
	first, err := s.Range(stream, id.Zero, id.Max, 1)
	if err != nil {
		return info, err
	}
	if len(first) > 0 {
		info.FirstID = first[0].ID
	}
	info.Groups, err = s.Groups(stream)
	return info, err
}

// LastID returns the ID of the most recently appended record, which may have
// been trimmed or deleted since. exists is false for streams never written.
func (s *Store) LastID(stream string) (last id.ID, exists bool, err error) {
	err = s.locked(stream, func(st *streamState) error {
		last, exists = st.meta.lastID, st.meta.exists
		return nil
	})
	return last, exists, err
}

// Len returns the number of retained records.
func (s *Store) Len(stream string) (int64, error) {
	var n int64
	err := s.locked(stream, func(st *streamState) error {
		n = st.meta.length
		return nil
	})
	return n, err
}

// meta encoding: lastID(16) | length(8)
func encodeMeta(m streamMeta) []byte {
	out := m.lastID.AppendBytes(make([]byte, 0, 24))
	return binary.BigEndian.AppendUint64(out, uint64(m.length))
}

func decodeMeta(b []byte) (streamMeta, error) {
	if len(b) < 24 {
		return streamMeta{}, errors.New("corrupt stream meta")
	}
	last, err := id.FromBytes(b[:16])
	if err != nil {
		return streamMeta{}, err
	}
	return streamMeta{exists: true, lastID: last, length: int64(binary.BigEndian.Uint64(b[16:24]))}, nil
}

// uniqueIDs drops repeated IDs, keeping first-seen order.
func uniqueIDs(ids []id.ID) []id.ID {
	seen := make(map[id.ID]struct{}, len(ids))
	out := ids[:0:0]
	for _, rid := range ids {
		if _, dup := seen[rid]; dup {
			continue
		}
		seen[rid] = struct{}{}
		out = append(out, rid)
	}
	return out
}
