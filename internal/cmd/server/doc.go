// Package serverrun exposes the Run entrypoint used by `pulse server start`.
// It opens the runtime, schedules the effect subscribers and serves gRPC
// and HTTP until the context is cancelled or the process is signalled.
//
// Example:
//
//	opts := serverrun.Options{DataDir: "./data", GRPCAddr: ":50051", HTTPAddr: ":8080", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun
