// Package runtime wires storage and config into a single-node pulse
// instance. It opens Pebble (event log and run state) and SQLite (effect
// state) under one data directory and exposes the facades built on them.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	_, _ = rt.Streams().Append(context.Background(), "ingest:uploads", map[string]string{"eventType": "UPLOAD"})
package runtime
