package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/pulse/internal/config"
	"github.com/rzbill/pulse/internal/runtime"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	sqlitestore "github.com/rzbill/pulse/internal/storage/sqlite"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

func newTestServer(t *testing.T) (*Server, *runtime.Runtime) {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Pusher.BlockMs = 50
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfg})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	return New(rt, logger), rt
}

func do(t *testing.T, s *Server, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	return w
}

func startRun(t *testing.T, s *Server, owner string) string {
	t.Helper()
	w := do(t, s, http.MethodPost, "/v1/runs", `{"userId":"`+owner+`","fileNo":"f-1","fileName":"a.pdf","size":10}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("start status: %d %s", w.Code, w.Body.String())
	}
	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out["runId"] == "" {
		t.Fatalf("start body: %s", w.Body.String())
	}
	return out["runId"]
}

func pushEvent(t *testing.T, s *Server, runID, step, status string) {
	t.Helper()
	body := `{"runId":"` + runID + `","currentStep":"` + step + `","status":"` + status + `"}`
	w := do(t, s, http.MethodPost, "/v1/progress/events", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("push status: %d %s", w.Code, w.Body.String())
	}
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/v1/healthz", "", nil)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("body: %s", w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodOptions, "/v1/progress", "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID") {
		t.Fatalf("allow headers: %q", w.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestProgressPullFlow(t *testing.T) {
	s, _ := newTestServer(t)
	runID := startRun(t, s, "u-1")
	pushEvent(t, s, runID, "UPLOAD", "COMPLETED")
	pushEvent(t, s, runID, "EXTRACTION", "RUNNING")

	w := do(t, s, http.MethodGet, "/v1/progress", "", map[string]string{"X-User-Id": "u-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}
	var v struct {
		RunID       string  `json:"runId"`
		CurrentStep string  `json:"currentStep"`
		Status      string  `json:"status"`
		OverallPct  float64 `json:"overallPct"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.RunID != runID || v.CurrentStep != "EXTRACTION" || v.Status != "RUNNING" {
		t.Fatalf("view: %+v", v)
	}
	if v.OverallPct < 20 {
		t.Fatalf("overall: %v", v.OverallPct)
	}

	w = do(t, s, http.MethodGet, "/v1/progress/runs?user_id=u-1", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), runID) {
		t.Fatalf("runs: %d %s", w.Code, w.Body.String())
	}
}

func TestProgressErrors(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"no owner", http.MethodGet, "/v1/progress", "", http.StatusBadRequest},
		{"unknown owner", http.MethodGet, "/v1/progress?user_id=ghost", "", http.StatusNotFound},
		{"wrong method", http.MethodPost, "/v1/progress?user_id=ghost", "", http.StatusMethodNotAllowed},
		{"start without user", http.MethodPost, "/v1/runs", `{"fileNo":"f"}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/v1/progress/events", `{`, http.StatusBadRequest},
		{"bad step", http.MethodPost, "/v1/progress/events", `{"runId":"r","currentStep":"NOPE"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, tt.method, tt.target, tt.body, nil)
			if w.Code != tt.want {
				t.Fatalf("status: got %d want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestProgressStreamSSE(t *testing.T) {
	s, _ := newTestServer(t)
	runID := startRun(t, s, "u-2")
	pushEvent(t, s, runID, "UPLOAD", "RUNNING")

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/progress/stream?user_id=u-2", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	next := func() string {
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "event: ") {
				return strings.TrimPrefix(line, "event: ")
			}
		}
		return ""
	}
	if got := next(); got != "initial" {
		t.Fatalf("first event: %q", got)
	}
	pushEvent(t, s, runID, "UPLOAD", "FAILED")

	for {
		got := next()
		if got == "" {
			t.Fatalf("stream ended before progress frame: %v", sc.Err())
		}
		if got == "progress" {
			break
		}
		if got != "heartbeat" {
			t.Fatalf("unexpected event: %q", got)
		}
	}
	// A terminal record closes the stream.
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "event: progress") {
			t.Fatalf("frame after terminal record")
		}
	}
}

func TestShutdownClosesOpenStream(t *testing.T) {
	s, _ := newTestServer(t)
	runID := startRun(t, s, "u-9")
	pushEvent(t, s, runID, "UPLOAD", "RUNNING")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/v1/progress/stream?user_id=u-9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() == "event: initial" {
			break
		}
	}

	start := time.Now()
	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("shutdown blocked on open stream")
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("shutdown took %v", took)
	}
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "event: error") {
			t.Fatalf("stream ended with an error frame")
		}
	}
}

func TestProgressStreamUnknownOwner(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/v1/progress/stream?user_id=ghost", "", nil)
	if !strings.Contains(w.Body.String(), "event: error") {
		t.Fatalf("body: %s", w.Body.String())
	}
}

func TestMetricsAndNotifications(t *testing.T) {
	s, rt := newTestServer(t)
	ctx := context.Background()
	now := time.Now()
	if _, err := rt.Effects().ApplyIncrements(ctx, "uploads", "1-0", sqlitestore.Increment{Metric: "uploads", At: now, Delta: 2}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if _, err := rt.Effects().UpsertNotification(ctx, sqlitestore.Notification{
		Owner: "u-3", EventType: "RUN_COMPLETED", ReferenceID: "r-1", Category: "ingest", Title: "a.pdf", Body: "a.pdf: completed",
	}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	w := do(t, s, http.MethodGet, "/v1/metrics?metric=uploads", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d %s", w.Code, w.Body.String())
	}
	var m struct {
		Buckets []sqlitestore.Bucket `json:"buckets"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil || len(m.Buckets) != 1 || m.Buckets[0].Value != 2 {
		t.Fatalf("buckets: %s", w.Body.String())
	}
	if w := do(t, s, http.MethodGet, "/v1/metrics", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing metric: %d", w.Code)
	}

	w = do(t, s, http.MethodGet, "/v1/notifications?user_id=u-3", "", nil)
	var n struct {
		Items []sqlitestore.Notification `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &n); err != nil || len(n.Items) != 1 {
		t.Fatalf("notifications: %s", w.Body.String())
	}
	w = do(t, s, http.MethodPost, "/v1/notifications/read?user_id=u-3", `{"id":"`+n.Items[0].ID+`"}`, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("mark read: %d %s", w.Code, w.Body.String())
	}
	w = do(t, s, http.MethodPost, "/v1/notifications/read?user_id=u-3", `{"id":"missing"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("mark missing: %d", w.Code)
	}
}

func TestTrendingKeywords(t *testing.T) {
	s, rt := newTestServer(t)
	ctx := context.Background()
	now := time.Now()
	_, _ = rt.Effects().ApplyKeywords(ctx, "q", "1-0", now, "rag", "pdf")
	_, _ = rt.Effects().ApplyKeywords(ctx, "q", "2-0", now, "rag")
	_, _ = rt.Effects().ApplyKeywords(ctx, "q", "3-0", now.AddDate(0, 0, -10), "old")

	w := do(t, s, http.MethodGet, "/v1/keywords/trending?limit=5", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("trending: %d %s", w.Code, w.Body.String())
	}
	var out struct {
		Days  int                        `json:"days"`
		Items []sqlitestore.KeywordCount `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Days != 7 || len(out.Items) != 2 || out.Items[0].Keyword != "rag" || out.Items[0].Frequency != 2 {
		t.Fatalf("trending body: %s", w.Body.String())
	}
}

func TestStreamInfo(t *testing.T) {
	s, rt := newTestServer(t)
	ctx := context.Background()
	if _, err := rt.Streams().Append(ctx, "orders", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := rt.Streams().EnsureGroup(ctx, "orders", "g1", "0"); err != nil {
		t.Fatalf("group: %v", err)
	}
	w := do(t, s, http.MethodGet, "/v1/streams/info?stream=orders", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var info struct {
		Exists bool  `json:"exists"`
		Length int64 `json:"length"`
		Groups []struct {
			Name string `json:"name"`
		} `json:"groups"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !info.Exists || info.Length != 1 || len(info.Groups) != 1 || info.Groups[0].Name != "g1" {
		t.Fatalf("info: %s", w.Body.String())
	}
	if w := do(t, s, http.MethodGet, "/v1/streams/info", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing stream: %d", w.Code)
	}
}
