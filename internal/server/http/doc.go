// Package httpserver is the REST and SSE gateway for pulse.
//
// It serves the consolidated progress view (pull), the live progress
// stream (push, Server-Sent Events with Last-Event-ID resume), the
// producer endpoints that record runs and step updates, and read
// endpoints over materialized counters and notifications.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()})
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
