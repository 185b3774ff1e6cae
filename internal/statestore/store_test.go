package statestore

import (
	"context"
	"testing"

	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestHashOps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.HSet(ctx, "run-42:meta", map[string]string{"status": "RUNNING", "createdAt": "1000"}); err != nil {
		t.Fatalf("hset: %v", err)
	}
	if err := s.HSet(ctx, "run-42:meta", map[string]string{"status": "COMPLETED"}); err != nil {
		t.Fatalf("hset overwrite: %v", err)
	}
	// a hash whose name extends another must stay separate
	if err := s.HSet(ctx, "run-42:meta2", map[string]string{"x": "y"}); err != nil {
		t.Fatalf("hset: %v", err)
	}

	all, err := s.HGetAll("run-42:meta")
	if err != nil {
		t.Fatalf("hgetall: %v", err)
	}
	if len(all) != 2 || all["status"] != "COMPLETED" || all["createdAt"] != "1000" {
		t.Fatalf("unexpected hash %v", all)
	}

	v, ok, err := s.HGet("run-42:meta", "createdAt")
	if err != nil || !ok || v != "1000" {
		t.Fatalf("hget: %q %v %v", v, ok, err)
	}
	if _, ok, _ := s.HGet("run-42:meta", "missing"); ok {
		t.Fatalf("missing field reported present")
	}

	if err := s.HDel(ctx, "run-42:meta", "status"); err != nil {
		t.Fatalf("hdel: %v", err)
	}
	all, _ = s.HGetAll("run-42:meta")
	if _, ok := all["status"]; ok || len(all) != 1 {
		t.Fatalf("hdel field left %v", all)
	}
	if err := s.HDel(ctx, "run-42:meta"); err != nil {
		t.Fatalf("hdel all: %v", err)
	}
	all, _ = s.HGetAll("run-42:meta")
	if len(all) != 0 {
		t.Fatalf("expected empty hash, got %v", all)
	}
	other, _ := s.HGetAll("run-42:meta2")
	if other["x"] != "y" {
		t.Fatalf("neighbouring hash was touched: %v", other)
	}
}

func TestSetOps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SAdd(ctx, "user:7:runs", "42", "43", "42"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	members, err := s.SMembers("user:7:runs")
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 2 || members[0] != "42" || members[1] != "43" {
		t.Fatalf("unexpected members %v", members)
	}
	if ok, _ := s.SIsMember("user:7:runs", "43"); !ok {
		t.Fatalf("expected member 43")
	}
	if err := s.SRem(ctx, "user:7:runs", "43", "99"); err != nil {
		t.Fatalf("srem: %v", err)
	}
	members, _ = s.SMembers("user:7:runs")
	if len(members) != 1 || members[0] != "42" {
		t.Fatalf("unexpected members after srem %v", members)
	}
}

func TestPlainValue(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set(context.Background(), "file:9:latest_run_id", "42"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get("file:9:latest_run_id")
	if err != nil || !ok || v != "42" {
		t.Fatalf("get: %q %v %v", v, ok, err)
	}
}
