// Package eventlog implements pulse's embedded, ordered stream log on Pebble.
//
// # Overview
//
// A stream is an append-only sequence of records keyed by a stream name. Each
// record carries a time-based ID ("<ms>-<seq>", see pkg/id) and a flat
// string-to-string field map. Streams support trimming to a maximum length,
// plain ID-cursor reads with optional blocking, and consumer groups with a
// per-group pending-entries list (PEL).
//
// Keys are lexicographically ordered for efficient range scans. Stream names
// are opaque strings, so a NUL byte terminates them inside keys:
//   - log/{stream}\x00m                          (meta: lastID, length)
//   - log/{stream}\x00e{id_be16}                 (entries)
//   - log/{stream}\x00g{group}\x00               (group meta, JSON)
//   - log/{stream}\x00p{group}\x00{id_be16}      (pending entries, JSON)
//   - log/{stream}\x00c{group}\x00{consumer}     (consumer registry, JSON)
//
// Records are stored as: uvarint headerLen | header | payload | crc32c(header|payload),
// where the payload is the encoded field map.
//
// API surface (internal)
//
//	s := eventlog.Open(db)
//	rid, _ := s.Append(ctx, "orders:events", map[string]string{"k": "v"})
//	entries, _ := s.ReadAfter(ctx, "orders:events", id.Zero, 10, time.Second)
//
//	_ = s.CreateGroup(ctx, "orders:events", "billing", "$")
//	batch, _ := s.ReadGroup(ctx, "orders:events", "billing", "c1", 10, time.Second)
//	_, _ = s.Ack(ctx, "orders:events", "billing", batch[0].ID)
//
//	_, _ = s.Trim(ctx, "orders:events", 1000, true)
//
// # Blocking reads
//
// Appends wake blocked readers of the same stream through a per-stream notify
// channel that is closed and replaced on every append. Blocked reads also
// return when their context is cancelled or the store is closed.
package eventlog
