package progress

import (
	"context"
	"testing"

	"github.com/rzbill/pulse/internal/eventlog"
	streamsvc "github.com/rzbill/pulse/internal/services/streams"
	"github.com/rzbill/pulse/internal/statestore"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

var testKeys = Keys{RunPrefix: "run-", OwnerPrefix: "owner-", FilePrefix: "file-", GlobalStream: "progress"}

type testDeps struct {
	state *statestore.Store
	log   *streamsvc.Service
	store *eventlog.Store
}

func quietLogger() logpkg.Logger {
	return logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
}

func newTestDeps(t *testing.T) *testDeps {
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
	return &testDeps{state: statestore.New(db), log: streamsvc.New(store, quietLogger()), store: store}
}

func (d *testDeps) reconciler() *Reconciler {
	return NewReconciler(d.state, d.log, testKeys, quietLogger())
}

func (d *testDeps) hset(t *testing.T, key string, fields map[string]string) {
	t.Helper()
	if err := d.state.HSet(context.Background(), key, fields); err != nil {
		t.Fatalf("hset %s: %v", key, err)
	}
}

func (d *testDeps) index(t *testing.T, owner string, runs ...string) {
	t.Helper()
	if err := d.state.SAdd(context.Background(), testKeys.OwnerRuns(owner), runs...); err != nil {
		t.Fatalf("sadd: %v", err)
	}
}

func (d *testDeps) appendEvent(t *testing.T, runID string, fields map[string]string) string {
	t.Helper()
	rid, err := d.log.Append(context.Background(), testKeys.RunEvents(runID), fields)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return rid
}
