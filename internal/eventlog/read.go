package eventlog

import (
	"context"
	"time"

	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	"github.com/rzbill/pulse/pkg/id"
)

// Range returns up to count entries with start <= ID <= end in ascending
// order. count <= 0 means no limit.
func (s *Store) Range(stream string, start, end id.ID, count int) ([]Entry, error) {
	return s.scan(stream, start, end, count, false)
}

// RevRange returns up to count entries with start <= ID <= end in descending
// order.
func (s *Store) RevRange(stream string, end, start id.ID, count int) ([]Entry, error) {
	return s.scan(stream, start, end, count, true)
}

func (s *Store) scan(stream string, start, end id.ID, count int, reverse bool) ([]Entry, error) {
	if s.closed() {
		return nil, ErrClosed
	}
	if end.Less(start) {
		return nil, nil
	}
	var upper []byte
	if end == id.Max {
		upper = pebblestore.PrefixUpperBound(KeyEntryPrefix(stream))
	} else {
		upper = KeyEntry(stream, end.Incr())
	}
	entries := make([]Entry, 0, min(max(count, 1), 64))
	err := s.db.Scan(pebblestore.ScanOptions{
		Lower:   KeyEntry(stream, start),
		Upper:   upper,
		Reverse: reverse,
		Limit:   count,
	}, func(k, v []byte) bool {
		rid, ok := idFromKey(k)
		if !ok {
			return true
		}
		fields, ok := decodeEntry(v)
		if !ok {
			return true
		}
		entries = append(entries, Entry{ID: rid, Fields: fields})
		return true
	})
	return entries, err
}

// ReadAfter returns up to count entries with ID > after. When none exist it
// waits up to block for an append and retries; an expired wait returns an
// empty slice and no error. block <= 0 never waits.
func (s *Store) ReadAfter(ctx context.Context, stream string, after id.ID, count int, block time.Duration) ([]Entry, error) {
	st := s.state(stream)
	return s.blocking(ctx, block, st.waitChan, func() ([]Entry, error) {
		if after == id.Max {
			return nil, nil
		}
		return s.Range(stream, after.Incr(), id.Max, count)
	})
}

// blocking runs attempt until it yields entries, the block window expires, ctx
// is cancelled or the store closes. arm must be called before attempt so an
// append racing the attempt still wakes the waiter.
func (s *Store) blocking(ctx context.Context, block time.Duration, arm func() <-chan struct{}, attempt func() ([]Entry, error)) ([]Entry, error) {
	var deadline time.Time
	if block > 0 {
		deadline = time.Now().Add(block)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		woken := arm()
		entries, err := attempt()
		if err != nil || len(entries) > 0 || block <= 0 {
			return entries, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-woken:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.done:
			timer.Stop()
			return nil, ErrClosed
		}
	}
}
