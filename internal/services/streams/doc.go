// Package streamsvc is the event log client the rest of pulse programs
// against. It wraps the embedded log with string record IDs, tail ("$")
// resolution, idempotent group bootstrap and a small error taxonomy:
//
//   - ErrLogUnavailable: the backing log failed; callers retry later.
//   - ErrGroupExists: reported by IsGroupExists, treated as success by EnsureGroup.
//   - ErrStreamMissing: triggers the bootstrap-record path in EnsureGroup.
//   - ErrNoGroup: group reads against a group that was never created.
//
// Example:
//
//	svc := streamsvc.New(store, logger)
//	rid, _ := svc.Append(ctx, "ingest:uploads", map[string]string{"eventType": "UPLOAD"})
//	_ = svc.EnsureGroup(ctx, "ingest:uploads", "backend-ingest-uploads", streamsvc.TailID)
//	recs, _ := svc.ReadGroup(ctx, "ingest:uploads", "backend-ingest-uploads", "consumer-1", time.Second, 50)
//	_ = svc.Ack(ctx, "ingest:uploads", "backend-ingest-uploads", rid)
package streamsvc
