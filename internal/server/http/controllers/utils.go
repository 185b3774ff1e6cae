package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rzbill/pulse/internal/services/progress"
	streamsvc "github.com/rzbill/pulse/internal/services/streams"
)

// Helper functions for common HTTP responses

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// writeStatusJSON writes data with a non-200 status.
func writeStatusJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, progress.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, progress.ErrTooManyStreams), errors.Is(err, streamsvc.ErrLogUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, progress.ErrInvalidEvent), errors.Is(err, streamsvc.ErrInvalidID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ownerFrom reads the caller identity from X-User-Id or user_id.
func ownerFrom(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-User-Id")); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

// parseLimit parses a limit string and returns a valid limit value.
//
// Returns 0 for empty strings or invalid values.
func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}
	if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
		return limit
	}
	return 0
}

// parseTimestamp parses a timestamp string and returns the time.
//
// Supports both RFC3339 format and raw millisecond timestamps.
// Returns the zero time for empty strings or invalid values.
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}
