package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rzbill/pulse/internal/services/progress"
)

// sseSink implements progress.Sink for Server-Sent Events.
//
// Headers are written lazily on the first frame so that a connection
// rejected before any frame can still carry a proper status code.
type sseSink struct {
	w       http.ResponseWriter
	started bool
}

func (s *sseSink) start() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

// Send writes one frame as an SSE event and flushes it.
//
// Frames with a record ID carry an "id:" line so browsers resume with
// Last-Event-ID after a reconnect.
func (s *sseSink) Send(f progress.Frame) error {
	s.start()
	var payload any = map[string]string{}
	switch {
	case f.View != nil:
		payload = f.View
	case f.Error != "":
		payload = map[string]string{"error": f.Error}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if f.ID != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", f.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", f.Kind, b); err != nil {
		return err
	}
	return s.Flush()
}

// Flush flushes the HTTP response writer if it supports flushing.
func (s *sseSink) Flush() error {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
