package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	sqlitestore "github.com/rzbill/pulse/internal/storage/sqlite"
)

// EffectsController exposes the materialized side effects: hourly
// counters, trend keywords and per-user notifications.
type EffectsController struct {
	store *sqlitestore.Store
}

// NewEffectsController creates a new effects controller.
func NewEffectsController(store *sqlitestore.Store) *EffectsController {
	return &EffectsController{store: store}
}

// RegisterRoutes registers effect routes with the given mux.
func (c *EffectsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/metrics", c.handleMetrics)
	mux.HandleFunc("/v1/keywords/trending", c.handleTrending)
	mux.HandleFunc("/v1/notifications", c.handleNotifications)
	mux.HandleFunc("/v1/notifications/read", c.handleMarkRead)
}

// handleMetrics returns hourly buckets of one counter.
//
// GET /v1/metrics?metric=uploads&from=...&to=...
// from defaults to 24h ago; to defaults to unbounded.
func (c *EffectsController) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	metric := q.Get("metric")
	if metric == "" {
		writeError(w, http.StatusBadRequest, "metric required")
		return
	}
	from := parseTimestamp(q.Get("from"))
	if from.IsZero() {
		from = time.Now().Add(-24 * time.Hour)
	}
	to := parseTimestamp(q.Get("to"))
	buckets, err := c.store.Counters(r.Context(), metric, from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if buckets == nil {
		buckets = []sqlitestore.Bucket{}
	}
	writeJSON(w, map[string]any{"metric": metric, "buckets": buckets})
}

// handleTrending ranks keywords over the last days UTC days, today included.
//
// GET /v1/keywords/trending?days=7&limit=10
func (c *EffectsController) handleTrending(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	days := parseLimit(q.Get("days"))
	if days == 0 {
		days = 7
	}
	limit := parseLimit(q.Get("limit"))
	if limit == 0 {
		limit = 10
	}
	to := time.Now()
	from := to.AddDate(0, 0, -(days - 1))
	items, err := c.store.TopKeywords(r.Context(), from, to, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []sqlitestore.KeywordCount{}
	}
	writeJSON(w, map[string]any{"days": days, "items": items})
}

// handleNotifications lists a user's notifications, newest first.
//
// GET /v1/notifications?user_id=...&limit=20
func (c *EffectsController) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	owner := ownerFrom(r)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	items, err := c.store.ListNotifications(r.Context(), owner, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []sqlitestore.Notification{}
	}
	writeJSON(w, map[string]any{"items": items})
}

// handleMarkRead marks one notification read.
//
// POST /v1/notifications/read?user_id=... {"id": "..."}
func (c *EffectsController) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	owner := ownerFrom(r)
	var req markReadReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || owner == "" {
		writeError(w, http.StatusBadRequest, "user_id and id required")
		return
	}
	ok, err := c.store.MarkNotificationRead(r.Context(), owner, req.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
