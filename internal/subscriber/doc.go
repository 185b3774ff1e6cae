// Package subscriber runs stream subscribers: one generic poll loop driven
// by a read strategy, either a consumer group (GroupRead) or a locally held
// cursor (CursorRead).
//
// Handler failures never stop the pipeline. A failed record is logged, copied
// to the dead-letter stream "<stream>:dlq" when enabled, and then acked
// (group) or skipped past (cursor), so one poison record cannot wedge a
// consumer. The cost is that the failed record's effect is not applied.
// Cursor subscribers start at the stream tail and lose their position on
// restart.
package subscriber
