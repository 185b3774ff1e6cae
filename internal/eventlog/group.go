package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	"github.com/rzbill/pulse/pkg/id"
)

// TailID is the CreateGroup start position meaning "the current last ID".
const TailID = "$"

type groupRecord struct {
	Name          string `json:"name"`
	LastDelivered string `json:"last_delivered"`
	EntriesRead   int64  `json:"entries_read"`
	CreatedMs     int64  `json:"created_ms"`
}

type pendingRecord struct {
	Consumer    string `json:"consumer"`
	DeliveredMs int64  `json:"delivered_ms"`
	Deliveries  int64  `json:"deliveries"`
}

type consumerRecord struct {
	Name         string `json:"name"`
	RegisteredMs int64  `json:"registered_ms"`
	SeenMs       int64  `json:"seen_ms"`
}

// GroupInfo summarizes one consumer group.
type GroupInfo struct {
	Name          string
	LastDelivered id.ID
	EntriesRead   int64
	Pending       int
	Consumers     int
}

// PendingEntry is one delivered, unacknowledged record of a group.
type PendingEntry struct {
	ID          id.ID
	Consumer    string
	DeliveredMs int64
	Deliveries  int64
}

// CreateGroup creates group on stream starting after start, which is either
// TailID or a record ID ("0" replays the whole stream). The stream must exist.
func (s *Store) CreateGroup(ctx context.Context, stream, group, start string) error {
	return s.locked(stream, func(st *streamState) error {
		if !st.meta.exists {
			return ErrNoSuchStream
		}
		startID := st.meta.lastID
		if start != TailID {
			parsed, err := id.Parse(start)
			if err != nil {
				return fmt.Errorf("eventlog: group start %q: %w", start, err)
			}
			startID = parsed
		}
		ok, err := s.db.Has(KeyGroup(stream, group))
		if err != nil {
			return err
		}
		if ok {
			return ErrGroupExists
		}
		rec := groupRecord{Name: group, LastDelivered: startID.String(), CreatedMs: id.NowMs()}
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal group: %w", err)
		}
		return s.db.Update(ctx, func(b *pebble.Batch) error {
			return b.Set(KeyGroup(stream, group), raw, nil)
		})
	})
}

func (s *Store) loadGroup(stream, group string) (groupRecord, id.ID, error) {
	raw, err := s.db.Get(KeyGroup(stream, group))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return groupRecord{}, id.ID{}, ErrNoGroup
	}
	if err != nil {
		return groupRecord{}, id.ID{}, err
	}
	var rec groupRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return groupRecord{}, id.ID{}, fmt.Errorf("unmarshal group: %w", err)
	}
	last, err := id.Parse(rec.LastDelivered)
	if err != nil {
		return groupRecord{}, id.ID{}, fmt.Errorf("group %q last delivered: %w", group, err)
	}
	return rec, last, nil
}

// ReadGroup delivers up to count never-delivered entries to consumer, adds
// them to the group's pending list and advances the group's last-delivered
// ID. Each entry goes to exactly one consumer of the group. When nothing is
// available it blocks like ReadAfter.
func (s *Store) ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Entry, error) {
	st := s.state(stream)
	return s.blocking(ctx, block, st.waitChan, func() ([]Entry, error) {
		var delivered []Entry
		err := s.locked(stream, func(st *streamState) error {
			if !st.meta.exists {
				return ErrNoGroup
			}
			rec, last, err := s.loadGroup(stream, group)
			if err != nil {
				return err
			}
			if last == id.Max {
				return nil
			}
			entries, err := s.Range(stream, last.Incr(), id.Max, count)
			if err != nil {
				return err
			}
			now := id.NowMs()
			consRaw, err := s.touchConsumer(stream, group, consumer, now)
			if err != nil {
				return err
			}
			if len(entries) > 0 {
				rec.LastDelivered = entries[len(entries)-1].ID.String()
				rec.EntriesRead += int64(len(entries))
			}
			groupRaw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal group: %w", err)
			}
			pendRaw, err := json.Marshal(pendingRecord{Consumer: consumer, DeliveredMs: now, Deliveries: 1})
			if err != nil {
				return fmt.Errorf("marshal pending: %w", err)
			}
			err = s.db.Update(ctx, func(b *pebble.Batch) error {
				for _, e := range entries {
					if err := b.Set(KeyPending(stream, group, e.ID), pendRaw, nil); err != nil {
						return err
					}
				}
				if err := b.Set(KeyConsumer(stream, group, consumer), consRaw, nil); err != nil {
					return err
				}
				return b.Set(KeyGroup(stream, group), groupRaw, nil)
			})
			if err != nil {
				return err
			}
			delivered = entries
			return nil
		})
		return delivered, err
	})
}

func (s *Store) touchConsumer(stream, group, consumer string, now int64) ([]byte, error) {
	rec := consumerRecord{Name: consumer, RegisteredMs: now, SeenMs: now}
	raw, err := s.db.Get(KeyConsumer(stream, group, consumer))
	if err == nil {
		var prev consumerRecord
		if json.Unmarshal(raw, &prev) == nil && prev.RegisteredMs > 0 {
			rec.RegisteredMs = prev.RegisteredMs
		}
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return nil, err
	}
	out, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal consumer: %w", err)
	}
	return out, nil
}

// Ack removes ids from the group's pending list and returns how many were
// pending. Unknown, already acknowledged IDs and unknown groups count as zero.
func (s *Store) Ack(ctx context.Context, stream, group string, ids ...id.ID) (int, error) {
	acked := 0
	err := s.locked(stream, func(st *streamState) error {
		var present []id.ID
		for _, rid := range uniqueIDs(ids) {
			ok, err := s.db.Has(KeyPending(stream, group, rid))
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
		err := s.db.Update(ctx, func(b *pebble.Batch) error {
			for _, rid := range present {
				if err := b.Delete(KeyPending(stream, group, rid), nil); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		acked = len(present)
		return nil
	})
	return acked, err
}

// Pending lists up to count pending entries of group in ID order. An empty
// consumer lists every consumer's entries.
func (s *Store) Pending(stream, group, consumer string, count int) ([]PendingEntry, error) {
	if s.closed() {
		return nil, ErrClosed
	}
	var out []PendingEntry
	var decodeErr error
	err := s.db.Scan(pebblestore.ScanOptions{Prefix: KeyPendingPrefix(stream, group)}, func(k, v []byte) bool {
		rid, ok := idFromKey(k)
		if !ok {
			return true
		}
		var rec pendingRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			decodeErr = fmt.Errorf("unmarshal pending: %w", err)
			return false
		}
		if consumer != "" && rec.Consumer != consumer {
			return true
		}
		out = append(out, PendingEntry{ID: rid, Consumer: rec.Consumer, DeliveredMs: rec.DeliveredMs, Deliveries: rec.Deliveries})
		return count <= 0 || len(out) < count
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

// Groups lists the consumer groups of stream with pending and consumer counts.
func (s *Store) Groups(stream string) ([]GroupInfo, error) {
	if s.closed() {
		return nil, ErrClosed
	}
	var recs []groupRecord
	err := s.db.Scan(pebblestore.ScanOptions{Prefix: KeyGroupPrefix(stream)}, func(_, v []byte) bool {
		var rec groupRecord
		if json.Unmarshal(v, &rec) == nil {
			recs = append(recs, rec)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	out := make([]GroupInfo, 0, len(recs))
	for _, rec := range recs {
		last, _ := id.Parse(rec.LastDelivered)
		info := GroupInfo{Name: rec.Name, LastDelivered: last, EntriesRead: rec.EntriesRead}
		if err := s.db.Scan(pebblestore.ScanOptions{Prefix: KeyPendingPrefix(stream, rec.Name)}, func(_, _ []byte) bool {
			info.Pending++
			return true
		}); err != nil {
			return nil, err
		}
		if err := s.db.Scan(pebblestore.ScanOptions{Prefix: KeyConsumerPrefix(stream, rec.Name)}, func(_, _ []byte) bool {
			info.Consumers++
			return true
		}); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}
