// Package pebblestore wraps Pebble with an fsync policy, batches, range scans
// and a small metrics hook. It is the durable backing for the event log and
// the hash/set state store.
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	_ = db.Update(ctx, func(b *pebble.Batch) error {
//	    return b.Set([]byte("k"), []byte("v"), nil)
//	})
//
//	_ = db.Scan(pebblestore.ScanOptions{Prefix: []byte("k")}, func(k, v []byte) bool {
//	    return true
//	})
package pebblestore
