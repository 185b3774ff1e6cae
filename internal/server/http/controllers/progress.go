package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rzbill/pulse/internal/services/progress"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// ProgressController serves the pull and push progress surface and the
// producer endpoints that feed it.
type ProgressController struct {
	rec    *progress.Reconciler
	pusher *progress.Pusher
	pub    *progress.Publisher
	logger logpkg.Logger
}

// NewProgressController creates a new progress controller.
func NewProgressController(svcs Services, logger logpkg.Logger) *ProgressController {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &ProgressController{
		rec:    svcs.Reconciler,
		pusher: svcs.Pusher,
		pub:    svcs.Publisher,
		logger: logger.WithComponent("progress-http"),
	}
}

// RegisterRoutes registers progress routes with the given mux.
func (c *ProgressController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/progress", c.handleLatest)
	mux.HandleFunc("/v1/progress/stream", c.handleStream)
	mux.HandleFunc("/v1/progress/runs", c.handleRunning)
	mux.HandleFunc("/v1/progress/events", c.handlePushEvent)
	mux.HandleFunc("/v1/runs", c.handleStartRun)
}

// handleLatest returns the caller's consolidated view.
//
// GET /v1/progress?user_id=...
func (c *ProgressController) handleLatest(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	owner := ownerFrom(r)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	v, err := c.rec.GetLatestProgress(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, v)
}

// handleRunning lists the caller's runs with per-step breakdowns.
//
// GET /v1/progress/runs?user_id=...
func (c *ProgressController) handleRunning(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	owner := ownerFrom(r)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	list, err := c.rec.ListRunning(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, list)
}

// handleStream pushes the active run over Server-Sent Events.
//
// GET /v1/progress/stream?user_id=...
// Last-Event-ID (header or last_event_id query) resumes after that record.
func (c *ProgressController) handleStream(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	owner := ownerFrom(r)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	last := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if last == "" {
		last = r.URL.Query().Get("last_event_id")
	}

	sink := &sseSink{w: w}
	err := c.pusher.Stream(r.Context(), owner, last, sink)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	case !sink.started:
		writeServiceError(w, err)
	default:
		c.logger.Debug("progress stream ended", logpkg.Str("owner", owner), logpkg.Err(err))
	}
}

// handleStartRun registers a new run.
//
// POST /v1/runs {"userId": "...", "fileNo": "...", "fileName": "...", "size": 0}
func (c *ProgressController) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var rs progress.RunStart
	if err := json.NewDecoder(r.Body).Decode(&rs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if rs.UserID == "" {
		rs.UserID = ownerFrom(r)
	}
	runID, err := c.pub.StartRun(r.Context(), rs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeStatusJSON(w, http.StatusCreated, map[string]string{"runId": runID})
}

// handlePushEvent records one step update for a run.
//
// POST /v1/progress/events {"runId": "...", "currentStep": "...", "status": "..."}
func (c *ProgressController) handlePushEvent(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var ev progress.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if ev.UserID == "" {
		ev.UserID = ownerFrom(r)
	}
	res, err := c.pub.PushEvent(r.Context(), ev)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, res)
}
