package sqlitestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "effects.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewCreatesFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "effects.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestApplyIncrementsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 42, 0, 0, time.UTC)
	incs := []Increment{
		{Metric: "input_tokens", At: at, Delta: 12},
		{Metric: "chatbot_requests", At: at, Delta: 1},
	}

	n, err := s.ApplyIncrements(ctx, "usage", "1-0", incs...)
	if err != nil || n != 2 {
		t.Fatalf("first apply: %d %v", n, err)
	}
	n, err = s.ApplyIncrements(ctx, "usage", "1-0", incs...)
	if err != nil || n != 0 {
		t.Fatalf("replay applied %d (%v)", n, err)
	}
	if n, _ := s.ApplyIncrements(ctx, "usage", "2-0", Increment{Metric: "input_tokens", At: at.Add(5 * time.Minute), Delta: 3}); n != 1 {
		t.Fatalf("second record applied %d", n)
	}
	// Same record ID from another source counts separately.
	if n, _ := s.ApplyIncrements(ctx, "other", "1-0", Increment{Metric: "input_tokens", At: at, Delta: 100}); n != 1 {
		t.Fatalf("other source applied %d", n)
	}

	buckets, err := s.Counters(ctx, "input_tokens", at.Add(-24*time.Hour), time.Time{})
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if len(buckets) != 1 || buckets[0].Value != 115 || !buckets[0].Start.Equal(HourBucket(at)) {
		t.Fatalf("buckets %+v", buckets)
	}
}

func TestCountersRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		if _, err := s.ApplyIncrements(ctx, "uploads", at.String(), Increment{Metric: "upload_documents", At: at, Delta: 1}); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	buckets, err := s.Counters(ctx, "upload_documents", base.Add(time.Hour), base.Add(2*time.Hour))
	if err != nil || len(buckets) != 1 || !buckets[0].Start.Equal(base.Add(time.Hour)) {
		t.Fatalf("ranged buckets %+v %v", buckets, err)
	}
}

func TestUpsertNotificationUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	n := Notification{Owner: "u1", EventType: "INGEST_RUN_COMPLETED", ReferenceID: "5-0", Category: "INGEST", Title: "done"}

	created, err := s.UpsertNotification(ctx, n)
	if err != nil || !created {
		t.Fatalf("first upsert: %v %v", created, err)
	}
	created, err = s.UpsertNotification(ctx, n)
	if err != nil || created {
		t.Fatalf("duplicate created: %v %v", created, err)
	}
	n.EventType = "INGEST_RUN_FAILED"
	if created, _ := s.UpsertNotification(ctx, n); !created {
		t.Fatalf("distinct event type should create a row")
	}

	list, err := s.ListNotifications(ctx, "u1", 10)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %+v %v", list, err)
	}
	if list[0].Category != "INGEST" || list[0].ReadAt != nil {
		t.Fatalf("notification %+v", list[0])
	}
	if other, _ := s.ListNotifications(ctx, "u2", 10); len(other) != 0 {
		t.Fatalf("leaked notifications to another owner")
	}

	ok, err := s.MarkNotificationRead(ctx, "u1", list[0].ID)
	if err != nil || !ok {
		t.Fatalf("mark read: %v %v", ok, err)
	}
	if ok, _ := s.MarkNotificationRead(ctx, "u2", list[1].ID); ok {
		t.Fatalf("marked another owner's notification")
	}
}

func TestJournalModeWAL(t *testing.T) {
	s := newTestStore(t)
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q", mode)
	}
	var timeout int
	if err := s.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("busy_timeout = %d", timeout)
	}
}

func TestKeywordsIdempotentAndRanked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)

	if n, err := s.ApplyKeywords(ctx, "q", "1-0", day, "rag", "pdf"); err != nil || n != 2 {
		t.Fatalf("first apply: %d %v", n, err)
	}
	if n, err := s.ApplyKeywords(ctx, "q", "1-0", day, "rag", "pdf"); err != nil || n != 0 {
		t.Fatalf("replay applied %d (%v)", n, err)
	}
	if n, _ := s.ApplyKeywords(ctx, "q", "2-0", day.Add(time.Hour), "rag"); n != 1 {
		t.Fatalf("next day applied %d", n)
	}
	if n, _ := s.ApplyKeywords(ctx, "q", "3-0", day, "agent"); n != 1 {
		t.Fatalf("third record applied %d", n)
	}

	top, err := s.TopKeywords(ctx, day, day.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 3 || top[0] != (KeywordCount{"rag", 2}) || top[1].Keyword != "agent" || top[2].Keyword != "pdf" {
		t.Fatalf("unexpected ranking %+v", top)
	}
	only, _ := s.TopKeywords(ctx, day, day, 1)
	if len(only) != 1 || only[0].Keyword != "agent" {
		t.Fatalf("single day top %+v", only)
	}
}
