package eventlog

import (
	"context"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
)

const trimBatchLimit = 1024

// approxSlack is how far an approximate trim lets a stream overshoot maxLen
// before deleting anything.
func approxSlack(maxLen int64) int64 {
	slack := maxLen / 10
	if slack < 1 {
		slack = 1
	}
	if slack > 100 {
		slack = 100
	}
	return slack
}

// Trim evicts the oldest entries until at most maxLen remain and returns the
// number deleted. With approximate set, nothing is deleted until the stream
// exceeds maxLen by approxSlack, which amortizes trims issued after every
// append. Entries are evicted even when a group still has them pending;
// the pending records stay until the group acknowledges them.
func (s *Store) Trim(ctx context.Context, stream string, maxLen int64, approximate bool) (int, error) {
	if maxLen < 0 {
		return 0, nil
	}
	deleted := 0
	err := s.locked(stream, func(st *streamState) error {
		excess := st.meta.length - maxLen
		if !st.meta.exists || excess <= 0 {
			return nil
		}
		if approximate && excess < approxSlack(maxLen) {
			return nil
		}
		for excess > 0 {
			n := int(min(excess, trimBatchLimit))
			var keys [][]byte
			err := s.db.Scan(pebblestore.ScanOptions{Prefix: KeyEntryPrefix(stream), Limit: n}, func(k, _ []byte) bool {
				keys = append(keys, append([]byte(nil), k...))
				return true
			})
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				break
			}
			m := st.meta
			m.length -= int64(len(keys))
			if m.length < 0 {
				m.length = 0
			}
			err = s.db.Update(ctx, func(b *pebble.Batch) error {
				for _, k := range keys {
					if err := b.Delete(k, nil); err != nil {
						return err
					}
				}
				return b.Set(KeyStreamMeta(stream), encodeMeta(m), nil)
			})
			if err != nil {
				return err
			}
			st.meta = m
			first, _ := idFromKey(keys[0])
			last, _ := idFromKey(keys[len(keys)-1])
			s.hook.OnTrim(stream, first, last, len(keys))
			deleted += len(keys)
			excess -= int64(len(keys))
		}
		return nil
	})
	return deleted, err
}
