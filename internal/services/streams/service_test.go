package streamsvc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rzbill/pulse/internal/eventlog"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

type testEnv struct {
	db    *pebblestore.DB
	store *eventlog.Store
	svc   *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	store := eventlog.Open(db)
	t.Cleanup(func() {
		_ = store.Close()
		_ = db.Close()
	})
	logger := logpkg.NewLogger(logpkg.WithOutput(&logpkg.NullOutput{}))
	return &testEnv{db: db, store: store, svc: New(store, logger)}
}

func TestEnsureGroupBootstrapsMissingStream(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := env.svc.EnsureGroup(ctx, "ingest:uploads", "g", TailID); err != nil {
			t.Fatalf("ensure group #%d: %v", i, err)
		}
	}
	info, err := env.svc.Info("ingest:uploads")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !info.Exists || info.Length != 0 {
		t.Fatalf("expected existing empty stream, got %+v", info)
	}
	if len(info.Groups) != 1 || info.Groups[0].Name != "g" {
		t.Fatalf("expected exactly one group, got %+v", info.Groups)
	}

	// The placeholder must never be delivered.
	rid, _ := env.svc.Append(ctx, "ingest:uploads", map[string]string{"eventType": "UPLOAD"})
	recs, err := env.svc.ReadGroup(ctx, "ingest:uploads", "g", "c1", 0, 10)
	if err != nil {
		t.Fatalf("read group: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != rid {
		t.Fatalf("unexpected delivery: %+v", recs)
	}
	if _, ok := recs[0].Fields[BootstrapField]; ok {
		t.Fatalf("bootstrap record delivered")
	}
}

func TestEnsureGroupExistingStreamKeepsHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first, _ := env.svc.Append(ctx, "s", map[string]string{"n": "1"})

	if err := env.svc.EnsureGroup(ctx, "s", "replay", "0"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	recs, err := env.svc.ReadGroup(ctx, "s", "replay", "c", 0, 10)
	if err != nil || len(recs) != 1 || recs[0].ID != first {
		t.Fatalf("expected replay of %s, got %+v %v", first, recs, err)
	}
}

type faultyLog struct {
	Log
	createErr error
	calls     int
}

func (f *faultyLog) CreateGroup(ctx context.Context, stream, group, start string) error {
	f.calls++
	return f.createErr
}

func TestEnsureGroupTreatsWrappedBusyGroupAsSuccess(t *testing.T) {
	env := newTestEnv(t)
	inner := errors.New("BUSYGROUP Consumer Group name already exists")
	fl := &faultyLog{Log: env.store, createErr: fmt.Errorf("provider: %w", fmt.Errorf("redis: %w", inner))}
	svc := New(fl, env.svc.logger)

	if err := svc.EnsureGroup(context.Background(), "s", "g", TailID); err != nil {
		t.Fatalf("expected busy group to be success, got %v", err)
	}
	if fl.calls != 1 {
		t.Fatalf("expected one create call, got %d", fl.calls)
	}
}

func TestEnsureGroupPropagatesOtherErrors(t *testing.T) {
	env := newTestEnv(t)
	fl := &faultyLog{Log: env.store, createErr: errors.New("connection refused")}
	svc := New(fl, env.svc.logger)

	err := svc.EnsureGroup(context.Background(), "s", "g", TailID)
	if !errors.Is(err, ErrLogUnavailable) {
		t.Fatalf("expected ErrLogUnavailable, got %v", err)
	}
}

func TestIsGroupExists(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{eventlog.ErrGroupExists, true},
		{fmt.Errorf("wrap: %w", ErrGroupExists), true},
		{errors.Join(errors.New("x"), errors.New("BUSYGROUP exists")), true},
		{errors.New("ERR no such key"), false},
	}
	for i, c := range cases {
		if got := IsGroupExists(c.err); got != c.want {
			t.Fatalf("case %d: IsGroupExists(%v) = %v", i, c.err, got)
		}
	}
}

func TestReadCursorTailSkipsHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, _ = env.svc.Append(ctx, "s", map[string]string{"n": "old"})

	done := make(chan []Record, 1)
	go func() {
		recs, _ := env.svc.ReadCursor(ctx, "s", TailID, 2*time.Second, 10)
		done <- recs
	}()
	time.Sleep(50 * time.Millisecond)
	rid, _ := env.svc.Append(ctx, "s", map[string]string{"n": "new"})

	select {
	case recs := <-done:
		if len(recs) != 1 || recs[0].ID != rid {
			t.Fatalf("expected only the new record, got %+v", recs)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("cursor read did not wake")
	}
}

func TestReadCursorFromIDAndInvalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, _ := env.svc.Append(ctx, "s", map[string]string{"n": "a"})
	b, _ := env.svc.Append(ctx, "s", map[string]string{"n": "b"})

	recs, err := env.svc.ReadCursor(ctx, "s", a, 0, 10)
	if err != nil || len(recs) != 1 || recs[0].ID != b {
		t.Fatalf("read after a: %+v %v", recs, err)
	}
	recs, err = env.svc.ReadCursor(ctx, "s", "0", 0, 10)
	if err != nil || len(recs) != 2 {
		t.Fatalf("read from start: %+v %v", recs, err)
	}
	if _, err := env.svc.ReadCursor(ctx, "s", "not-an-id", 0, 10); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestReadCursorTimeoutIsEmpty(t *testing.T) {
	env := newTestEnv(t)
	recs, err := env.svc.ReadCursor(context.Background(), "quiet", TailID, 30*time.Millisecond, 10)
	if err != nil || len(recs) != 0 {
		t.Fatalf("expected empty result, got %+v %v", recs, err)
	}
}

func TestReadGroupUnknownGroup(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.svc.Append(context.Background(), "s", map[string]string{"n": "1"})
	_, err := env.svc.ReadGroup(context.Background(), "s", "nope", "c", 0, 10)
	if !errors.Is(err, ErrNoGroup) {
		t.Fatalf("expected ErrNoGroup, got %v", err)
	}
}

func TestAckIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.svc.EnsureGroup(ctx, "s", "g", TailID); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	rid, _ := env.svc.Append(ctx, "s", map[string]string{"n": "1"})
	if _, err := env.svc.ReadGroup(ctx, "s", "g", "c", 0, 10); err != nil {
		t.Fatalf("read group: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := env.svc.Ack(ctx, "s", "g", rid, "garbage"); err != nil {
			t.Fatalf("ack #%d: %v", i, err)
		}
	}
	pending, err := env.store.Pending("s", "g", "", 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected empty pending list, got %+v %v", pending, err)
	}
}

func TestLatestRecordAndID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, ok, err := env.svc.LatestRecord("missing"); ok || err != nil {
		t.Fatalf("missing stream: ok=%v err=%v", ok, err)
	}
	if got, err := env.svc.LatestID("missing"); got != "" || err != nil {
		t.Fatalf("missing latest id: %q %v", got, err)
	}

	_, _ = env.svc.Append(ctx, "s", map[string]string{"n": "1"})
	b, _ := env.svc.Append(ctx, "s", map[string]string{"n": "2"})
	rec, ok, err := env.svc.LatestRecord("s")
	if err != nil || !ok || rec.ID != b || rec.Fields["n"] != "2" {
		t.Fatalf("latest record: %+v %v %v", rec, ok, err)
	}
	if got, _ := env.svc.LatestID("s"); got != b {
		t.Fatalf("latest id %q want %q", got, b)
	}
}

func TestTrimNeverFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = env.svc.Append(ctx, "s", map[string]string{"n": "x"})
	}
	if n := env.svc.Trim(ctx, "s", 2, false); n != 3 {
		t.Fatalf("expected 3 trimmed, got %d", n)
	}
	_ = env.store.Close()
	if n := env.svc.Trim(ctx, "s", 1, false); n != 0 {
		t.Fatalf("expected 0 on closed log, got %d", n)
	}
}

func TestClosedLogIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	_ = env.store.Close()
	_, err := env.svc.Append(context.Background(), "s", map[string]string{"n": "1"})
	if !errors.Is(err, ErrLogUnavailable) {
		t.Fatalf("expected ErrLogUnavailable, got %v", err)
	}
	if !errors.Is(err, eventlog.ErrClosed) {
		t.Fatalf("expected backend cause in chain, got %v", err)
	}
}
