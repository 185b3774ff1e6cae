package statestore

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
)

// Store exposes hash and set primitives over a Pebble database.
type Store struct {
	db *pebblestore.DB
}

// New returns a Store over db.
func New(db *pebblestore.DB) *Store {
	return &Store{db: db}
}

const (
	hashPrefix = "hash/"
	setPrefix  = "set/"
	term       = byte(0x00)
)

func keyPrefix(kind, key string) []byte {
	k := make([]byte, 0, len(kind)+len(key)+1)
	k = append(k, kind...)
	k = append(k, key...)
	return append(k, term)
}

func fieldKey(kind, key, field string) []byte {
	return append(keyPrefix(kind, key), field...)
}

// HSet writes the given fields, leaving other fields untouched.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.db.Update(ctx, func(b *pebble.Batch) error {
		for f, v := range fields {
			if err := b.Set(fieldKey(hashPrefix, key, f), []byte(v), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// HGet returns one field; ok is false when it is absent.
func (s *Store) HGet(key, field string) (value string, ok bool, err error) {
	raw, err := s.db.Get(fieldKey(hashPrefix, key, field))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(raw), true, nil
}

// HGetAll returns every field of the hash. A missing hash yields an empty map.
func (s *Store) HGetAll(key string) (map[string]string, error) {
	prefix := keyPrefix(hashPrefix, key)
	out := make(map[string]string)
	err := s.db.Scan(pebblestore.ScanOptions{Prefix: prefix}, func(k, v []byte) bool {
		out[string(k[len(prefix):])] = string(v)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HDel removes fields from the hash; with no fields it removes the whole hash.
func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return s.deletePrefix(ctx, keyPrefix(hashPrefix, key))
	}
	return s.db.Update(ctx, func(b *pebble.Batch) error {
		for _, f := range fields {
			if err := b.Delete(fieldKey(hashPrefix, key, f), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// SAdd adds members to the set.
func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.db.Update(ctx, func(b *pebble.Batch) error {
		for _, m := range members {
			if err := b.Set(fieldKey(setPrefix, key, m), nil, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// SRem removes members from the set. Absent members are ignored.
func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.db.Update(ctx, func(b *pebble.Batch) error {
		for _, m := range members {
			if err := b.Delete(fieldKey(setPrefix, key, m), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// SIsMember reports whether member is in the set.
func (s *Store) SIsMember(key, member string) (bool, error) {
	return s.db.Has(fieldKey(setPrefix, key, member))
}

// SMembers returns the members of the set in byte order.
func (s *Store) SMembers(key string) ([]string, error) {
	prefix := keyPrefix(setPrefix, key)
	var out []string
	err := s.db.Scan(pebblestore.ScanOptions{Prefix: prefix}, func(k, _ []byte) bool {
		out = append(out, string(k[len(prefix):]))
		return true
	})
	return out, err
}

// Set writes a plain string value stored as a single-field hash.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.HSet(ctx, key, map[string]string{"": value})
}

// Get reads a value written by Set.
func (s *Store) Get(key string) (string, bool, error) {
	return s.HGet(key, "")
}

func (s *Store) deletePrefix(ctx context.Context, prefix []byte) error {
	var keys [][]byte
	err := s.db.Scan(pebblestore.ScanOptions{Prefix: prefix}, func(k, _ []byte) bool {
		keys = append(keys, append([]byte(nil), k...))
		return true
	})
	if err != nil || len(keys) == 0 {
		return err
	}
	return s.db.Update(ctx, func(b *pebble.Batch) error {
		for _, k := range keys {
			if err := b.Delete(k, nil); err != nil {
				return err
			}
		}
		return nil
	})
}
