package controllers

import (
	"net/http"

	streamsvc "github.com/rzbill/pulse/internal/services/streams"
)

// StreamsController exposes read-only inspection of event log streams.
type StreamsController struct {
	svc *streamsvc.Service
}

// NewStreamsController creates a new streams controller.
func NewStreamsController(svc *streamsvc.Service) *StreamsController {
	return &StreamsController{svc: svc}
}

// RegisterRoutes registers stream routes with the given mux.
func (c *StreamsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/streams/info", c.handleInfo)
}

// handleInfo summarizes a stream and its consumer groups.
//
// GET /v1/streams/info?stream=...
func (c *StreamsController) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		writeError(w, http.StatusBadRequest, "stream required")
		return
	}
	info, err := c.svc.Info(stream)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := streamInfoJSON{Stream: stream, Exists: info.Exists, Length: info.Length, Groups: []groupInfoJSON{}}
	if info.Exists {
		out.FirstID = info.FirstID.String()
		out.LastID = info.LastID.String()
	}
	for _, g := range info.Groups {
		out.Groups = append(out.Groups, groupInfoJSON{
			Name:            g.Name,
			LastDeliveredID: g.LastDelivered.String(),
			EntriesRead:     g.EntriesRead,
			Pending:         g.Pending,
			Consumers:       g.Consumers,
		})
	}
	writeJSON(w, out)
}
