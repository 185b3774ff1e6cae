// Package effects holds the record handlers that turn stream records into
// durable state. Every handler is idempotent: replaying a record leaves the
// same end state as applying it once.
package effects

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rzbill/pulse/internal/services/progress"
	streamsvc "github.com/rzbill/pulse/internal/services/streams"
	sqlitestore "github.com/rzbill/pulse/internal/storage/sqlite"
	"github.com/rzbill/pulse/pkg/id"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// Metric names.
const (
	MetricUploadDocuments = "upload_documents"
	MetricErrorsSystem    = "errors_system"
	MetricErrorsResponse  = "errors_response"
	MetricChatRequests    = "chatbot_requests"
	MetricInputTokens     = "input_tokens"
	MetricOutputTokens    = "output_tokens"
	MetricTotalTokens     = "total_tokens"
	MetricResponseTimeMs  = "response_time_ms"
)

// Notification values.
const (
	CategoryIngest     = "INGEST"
	NotifyRunCompleted = "INGEST_RUN_COMPLETED"
	NotifyRunFailed    = "INGEST_RUN_FAILED"
)

// CounterStore applies per-record counter increments at most once.
type CounterStore interface {
	ApplyIncrements(ctx context.Context, source, recordID string, incs ...sqlitestore.Increment) (int, error)
}

// NotificationStore upserts notifications unique on owner, type and reference.
type NotificationStore interface {
	UpsertNotification(ctx context.Context, n sqlitestore.Notification) (bool, error)
}

// UploadCounter counts UPLOAD events per hour.
type UploadCounter struct {
	Store  CounterStore
	Source string
	Logger logpkg.Logger
}

func (h *UploadCounter) Handle(ctx context.Context, rec streamsvc.Record) error {
	if !strings.EqualFold(rec.Fields["eventType"], "UPLOAD") {
		debug(h.Logger, "ignoring event", rec)
		return nil
	}
	_, err := h.Store.ApplyIncrements(ctx, h.Source, rec.ID,
		sqlitestore.Increment{Metric: MetricUploadDocuments, At: recordTime(rec), Delta: 1})
	return err
}

// ErrorCounter counts system and response errors per hour.
type ErrorCounter struct {
	Store  CounterStore
	Source string
	Logger logpkg.Logger
}

func (h *ErrorCounter) Handle(ctx context.Context, rec streamsvc.Record) error {
	var metric string
	switch strings.ToLower(strings.TrimSpace(rec.Fields["type"])) {
	case "system":
		metric = MetricErrorsSystem
	case "response":
		metric = MetricErrorsResponse
	default:
		debug(h.Logger, "error record without known type", rec)
		return nil
	}
	_, err := h.Store.ApplyIncrements(ctx, h.Source, rec.ID,
		sqlitestore.Increment{Metric: metric, At: recordTime(rec), Delta: 1})
	return err
}

// UsageCounter sums request counts, token usage and response time per hour.
type UsageCounter struct {
	Store  CounterStore
	Source string
	Logger logpkg.Logger
}

func (h *UsageCounter) Handle(ctx context.Context, rec streamsvc.Record) error {
	at := recordTime(rec)
	incs := []sqlitestore.Increment{{Metric: MetricChatRequests, At: at, Delta: 1}}
	for _, m := range []string{MetricInputTokens, MetricOutputTokens, MetricTotalTokens, MetricResponseTimeMs} {
		raw := strings.TrimSpace(rec.Fields[m])
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("usage record %s: %s: %w", rec.ID, m, err)
		}
		incs = append(incs, sqlitestore.Increment{Metric: m, At: at, Delta: v})
	}
	_, err := h.Store.ApplyIncrements(ctx, h.Source, rec.ID, incs...)
	return err
}

// KeywordStore counts per-record keywords at most once.
type KeywordStore interface {
	ApplyKeywords(ctx context.Context, source, recordID string, at time.Time, keywords ...string) (int, error)
}

const maxKeywordLen = 255

// KeywordCounter counts trend keywords of chat queries per day. Keywords
// come from the record's keywords field (a JSON array or a comma list); a
// record without any registers its query as the keyword.
type KeywordCounter struct {
	Store  KeywordStore
	Source string
	Logger logpkg.Logger
}

func (h *KeywordCounter) Handle(ctx context.Context, rec streamsvc.Record) error {
	query := normalizeKeyword(rec.Fields["query"])
	if query == "" {
		debug(h.Logger, "skipping empty query", rec)
		return nil
	}
	keywords := parseKeywords(rec.Fields["keywords"])
	if len(keywords) == 0 {
		keywords = []string{query}
	}
	_, err := h.Store.ApplyKeywords(ctx, h.Source, rec.ID, recordTime(rec), keywords...)
	return err
}

func parseKeywords(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var parts []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &parts); err != nil {
			parts = nil
		}
	} else {
		parts = strings.Split(raw, ",")
	}
	seen := make(map[string]struct{}, len(parts))
	var out []string
	for _, p := range parts {
		kw := normalizeKeyword(p)
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// normalizeKeyword trims, collapses inner whitespace and caps the length.
func normalizeKeyword(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxKeywordLen {
		s = string(r[:maxKeywordLen])
	}
	return s
}

// IngestNotifier turns run summary records into user notifications.
type IngestNotifier struct {
	Store  NotificationStore
	Logger logpkg.Logger
}

func (h *IngestNotifier) Handle(ctx context.Context, rec streamsvc.Record) error {
	f := rec.Fields
	var eventType, title string
	switch strings.ToUpper(f["eventType"]) {
	case progress.EventRunCompleted:
		eventType, title = NotifyRunCompleted, "Ingest completed"
	case progress.EventRunFailed:
		eventType, title = NotifyRunFailed, "Ingest failed"
	default:
		return nil
	}
	owner := strings.TrimSpace(f["userId"])
	if owner == "" {
		return fmt.Errorf("summary record %s has no userId", rec.ID)
	}
	subject := f["fileName"]
	if subject == "" {
		subject = f["fileNo"]
	}
	if subject == "" {
		subject = f["runId"]
	}
	created, err := h.Store.UpsertNotification(ctx, sqlitestore.Notification{
		Owner:       owner,
		EventType:   eventType,
		ReferenceID: rec.ID,
		Category:    CategoryIngest,
		Title:       title,
		Body:        fmt.Sprintf("%s: %s", subject, strings.ToLower(f["status"])),
		CreatedAt:   recordTime(rec),
	})
	if err != nil {
		return err
	}
	if !created {
		debug(h.Logger, "notification already exists", rec)
	}
	return nil
}

// recordTime reads ts (epoch ms or ISO-8601), falling back to the record
// ID's time component and finally to now.
func recordTime(rec streamsvc.Record) time.Time {
	for _, k := range []string{"ts", "timestamp", "createdAt"} {
		raw := strings.TrimSpace(rec.Fields[k])
		if raw == "" {
			continue
		}
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t.UTC()
		}
	}
	if rid, err := id.Parse(rec.ID); err == nil && rid.Ms > 0 {
		return time.UnixMilli(int64(rid.Ms)).UTC()
	}
	return time.Now().UTC()
}

func debug(l logpkg.Logger, msg string, rec streamsvc.Record) {
	if l != nil {
		l.Debug(msg, logpkg.Str("id", rec.ID))
	}
}
