package effects

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	streamsvc "github.com/rzbill/pulse/internal/services/streams"
	sqlitestore "github.com/rzbill/pulse/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.New(filepath.Join(t.TempDir(), "effects.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func total(t *testing.T, s *sqlitestore.Store, metric string) float64 {
	t.Helper()
	buckets, err := s.Counters(context.Background(), metric, time.Unix(0, 0), time.Time{})
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	var sum float64
	for _, b := range buckets {
		sum += b.Value
	}
	return sum
}

// handleTwice simulates redelivery.
func handleTwice(t *testing.T, h interface {
	Handle(context.Context, streamsvc.Record) error
}, rec streamsvc.Record) {
	t.Helper()
	for i := 0; i < 2; i++ {
		if err := h.Handle(context.Background(), rec); err != nil {
			t.Fatalf("handle #%d: %v", i, err)
		}
	}
}

func TestUploadCounterIdempotent(t *testing.T) {
	s := newTestStore(t)
	h := &UploadCounter{Store: s, Source: "ingest:uploads"}
	handleTwice(t, h, streamsvc.Record{ID: "1700000000000-0", Fields: map[string]string{"eventType": "upload"}})
	handleTwice(t, h, streamsvc.Record{ID: "1700000000001-0", Fields: map[string]string{"eventType": "DELETE"}})
	if got := total(t, s, MetricUploadDocuments); got != 1 {
		t.Fatalf("upload_documents = %v", got)
	}
}

func TestErrorCounterByType(t *testing.T) {
	s := newTestStore(t)
	h := &ErrorCounter{Store: s, Source: "errors"}
	handleTwice(t, h, streamsvc.Record{ID: "1-0", Fields: map[string]string{"type": "system"}})
	handleTwice(t, h, streamsvc.Record{ID: "2-0", Fields: map[string]string{"type": " Response "}})
	handleTwice(t, h, streamsvc.Record{ID: "3-0", Fields: map[string]string{"type": "response"}})
	handleTwice(t, h, streamsvc.Record{ID: "4-0", Fields: map[string]string{}})
	if total(t, s, MetricErrorsSystem) != 1 || total(t, s, MetricErrorsResponse) != 2 {
		t.Fatalf("system=%v response=%v", total(t, s, MetricErrorsSystem), total(t, s, MetricErrorsResponse))
	}
}

func TestUsageCounterSums(t *testing.T) {
	s := newTestStore(t)
	h := &UsageCounter{Store: s, Source: "usage"}
	handleTwice(t, h, streamsvc.Record{ID: "1-0", Fields: map[string]string{
		"input_tokens": "10", "output_tokens": "5", "total_tokens": "15", "response_time_ms": "200", "ts": "1700000000000",
	}})
	handleTwice(t, h, streamsvc.Record{ID: "2-0", Fields: map[string]string{"input_tokens": "1"}})
	if total(t, s, MetricChatRequests) != 2 || total(t, s, MetricInputTokens) != 11 || total(t, s, MetricResponseTimeMs) != 200 {
		t.Fatalf("requests=%v input=%v rt=%v",
			total(t, s, MetricChatRequests), total(t, s, MetricInputTokens), total(t, s, MetricResponseTimeMs))
	}
	if err := h.Handle(context.Background(), streamsvc.Record{ID: "3-0", Fields: map[string]string{"input_tokens": "many"}}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestIngestNotifierUnique(t *testing.T) {
	s := newTestStore(t)
	h := &IngestNotifier{Store: s}
	rec := streamsvc.Record{ID: "9-0", Fields: map[string]string{
		"eventType": "RUN_COMPLETED", "userId": "u1", "fileName": "a.pdf", "status": "COMPLETED",
	}}
	handleTwice(t, h, rec)
	handleTwice(t, h, streamsvc.Record{ID: "10-0", Fields: map[string]string{"eventType": "STEP_UPDATE", "userId": "u1"}})

	list, err := s.ListNotifications(context.Background(), "u1", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("notifications %+v %v", list, err)
	}
	n := list[0]
	if n.EventType != NotifyRunCompleted || n.ReferenceID != "9-0" || n.Category != CategoryIngest || n.Body != "a.pdf: completed" {
		t.Fatalf("notification %+v", n)
	}

	missing := streamsvc.Record{ID: "11-0", Fields: map[string]string{"eventType": "RUN_FAILED"}}
	if err := h.Handle(context.Background(), missing); err == nil {
		t.Fatalf("expected error for summary without owner")
	}
}

func TestRecordTime(t *testing.T) {
	cases := []struct {
		rec  streamsvc.Record
		want int64
	}{
		{streamsvc.Record{ID: "5-0", Fields: map[string]string{"ts": "1700000000000"}}, 1700000000000},
		{streamsvc.Record{ID: "5-0", Fields: map[string]string{"ts": "2024-01-01T00:00:00Z"}}, 1704067200000},
		{streamsvc.Record{ID: "1700000000123-4", Fields: map[string]string{"ts": "junk"}}, 1700000000123},
	}
	for _, c := range cases {
		if got := recordTime(c.rec).UnixMilli(); got != c.want {
			t.Fatalf("recordTime(%v) = %d want %d", c.rec, got, c.want)
		}
	}
}

func TestKeywordCounter(t *testing.T) {
	s := newTestStore(t)
	h := &KeywordCounter{Store: s, Source: "generation:history:queries"}
	at := "1714557600000"
	handleTwice(t, h, streamsvc.Record{ID: "1-0", Fields: map[string]string{"query": "how to  split a pdf", "keywords": `["pdf", " split ", "pdf", ""]`, "ts": at}})
	handleTwice(t, h, streamsvc.Record{ID: "2-0", Fields: map[string]string{"query": "pdf export", "keywords": "pdf, export", "ts": at}})
	handleTwice(t, h, streamsvc.Record{ID: "3-0", Fields: map[string]string{"query": "  what   is RAG ", "ts": at}})
	handleTwice(t, h, streamsvc.Record{ID: "4-0", Fields: map[string]string{"query": "   "}})

	day := time.UnixMilli(1714557600000).UTC()
	top, err := s.TopKeywords(context.Background(), day, day, 10)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	want := []sqlitestore.KeywordCount{{Keyword: "pdf", Frequency: 2}, {Keyword: "export", Frequency: 1}, {Keyword: "split", Frequency: 1}, {Keyword: "what is RAG", Frequency: 1}}
	if len(top) != len(want) {
		t.Fatalf("got %+v", top)
	}
	for i := range want {
		if top[i] != want[i] {
			t.Fatalf("rank %d: got %+v want %+v", i, top[i], want[i])
		}
	}
}

func TestNormalizeKeywordCapsLength(t *testing.T) {
	long := strings.Repeat("가", 300)
	if got := []rune(normalizeKeyword(long)); len(got) != maxKeywordLen {
		t.Fatalf("len = %d", len(got))
	}
}
