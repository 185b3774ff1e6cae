package id

import (
	"bytes"
	"math"
	"testing"
	"time"
)

func withClock(t *testing.T, fn func() int64) {
	t.Helper()
	NowMs = fn
	t.Cleanup(func() { NowMs = func() int64 { return time.Now().UnixMilli() } })
}

func TestNextAfterMonotonic(t *testing.T) {
	withClock(t, func() int64 { return 1000 })

	a := NextAfter(Zero)
	b := NextAfter(a)
	if a.String() != "1000-0" || b.String() != "1000-1" {
		t.Fatalf("got %s then %s", a, b)
	}
	if !a.Less(b) {
		t.Fatalf("expected a<b")
	}
}

func TestClockRegressionGuard(t *testing.T) {
	now := int64(1000)
	withClock(t, func() int64 { return now })

	a := NextAfter(Zero)
	now = 900
	b := NextAfter(a)
	if a.Compare(b) >= 0 {
		t.Fatalf("expected b>a despite clock regression, got %s %s", a, b)
	}
}

func TestSequenceOverflowMovesToNextMs(t *testing.T) {
	withClock(t, func() int64 { return 2000 })

	last := ID{Ms: 2000, Seq: math.MaxUint64}
	next := NextAfter(last)
	if next != (ID{Ms: 2001}) {
		t.Fatalf("got %s", next)
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want ID
		ok   bool
	}{
		{"0-0", Zero, true},
		{"1500-7", ID{Ms: 1500, Seq: 7}, true},
		{"1500", ID{Ms: 1500}, true},
		{"", ID{}, false},
		{"abc-1", ID{}, false},
		{"1-x", ID{}, false},
		{"$", ID{}, false},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("%q: err=%v", tc.in, err)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("%q: got %s want %s", tc.in, got, tc.want)
		}
	}
}

func TestBytesPreserveOrder(t *testing.T) {
	a := ID{Ms: 1, Seq: math.MaxUint64}
	b := ID{Ms: 2, Seq: 0}
	if bytes.Compare(a.Bytes(), b.Bytes()) >= 0 {
		t.Fatalf("byte order must follow numeric order")
	}
	back, err := FromBytes(b.AppendBytes(nil))
	if err != nil || back != b {
		t.Fatalf("round trip: %v %v", back, err)
	}
	if _, err := FromBytes([]byte{1, 2}); err == nil {
		t.Fatalf("expected error for short input")
	}
}
