// Package client provides the `pulse` command-line client.
//
// The CLI talks to the pulse HTTP gateway for progress and producer
// operations and to the gRPC health service for liveness checks.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. The standalone binary reads PULSE_HTTP and
// defaults to http://127.0.0.1:8080. The gRPC address is read from
// PULSE_GRPC (default 127.0.0.1:50051) unless --addr is given.
//
// Usage
//
//	pulse run start --user u-1 --file-no 42 --file-name report.pdf
//	pulse run event --file-no 42 --step UPLOAD --status COMPLETED
//	pulse progress get --user u-1
//	pulse progress runs --user u-1 --json
//	pulse progress watch --user u-1
//	pulse stream info --stream ingest:progress
//	pulse health
package client
