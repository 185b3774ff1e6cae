package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rzbill/pulse/pkg/id"
)

func TestRangeAndRevRange(t *testing.T) {
	s := newTestStore(t)
	ids := seedStream(t, s, "s", 5)

	items, err := s.Range("s", id.Zero, id.Max, 3)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(items) != 3 || items[0].ID != ids[0] || items[2].ID != ids[2] {
		t.Fatalf("unexpected range %v", items)
	}

	items, err = s.RevRange("s", id.Max, id.Zero, 2)
	if err != nil {
		t.Fatalf("revrange: %v", err)
	}
	if len(items) != 2 || items[0].ID != ids[4] || items[1].ID != ids[3] {
		t.Fatalf("unexpected revrange %v", items)
	}

	items, err = s.Range("s", ids[1], ids[3], 0)
	if err != nil {
		t.Fatalf("bounded range: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("range bounds are inclusive, got %d", len(items))
	}
}

func TestReadAfterReturnsNewerOnly(t *testing.T) {
	s := newTestStore(t)
	ids := seedStream(t, s, "s", 3)

	items, err := s.ReadAfter(context.Background(), "s", ids[0], 10, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(items) != 2 || items[0].ID != ids[1] {
		t.Fatalf("unexpected items %v", items)
	}
}

func TestReadAfterWakesOnAppend(t *testing.T) {
	s := newTestStore(t)
	ids := seedStream(t, s, "s", 1)

	done := make(chan []Entry, 1)
	go func() {
		items, err := s.ReadAfter(context.Background(), "s", ids[0], 10, 2*time.Second)
		if err != nil {
			t.Errorf("read: %v", err)
		}
		done <- items
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := s.Append(context.Background(), "s", map[string]string{"x": "1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case items := <-done:
		if len(items) != 1 || items[0].Fields["x"] != "1" {
			t.Fatalf("unexpected items %v", items)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for reader to wake")
	}
}

func TestReadAfterTimeoutIsEmpty(t *testing.T) {
	s := newTestStore(t)
	start := time.Now()
	items, err := s.ReadAfter(context.Background(), "s", id.Zero, 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items")
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("returned before the block window")
	}
}

func TestReadAfterCancelUnblocksPromptly(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.ReadAfter(ctx, "s", id.Zero, 10, time.Minute)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("cancel did not interrupt the blocked read")
	}
}

func TestCloseUnblocksReaders(t *testing.T) {
	s := newTestStore(t)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.ReadAfter(context.Background(), "s", id.Zero, 10, time.Minute)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = s.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("want ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("close did not interrupt the blocked read")
	}
}
