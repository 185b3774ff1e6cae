package controllers

import (
	"net/http"

	"github.com/rzbill/pulse/internal/runtime"
	"github.com/rzbill/pulse/internal/services/progress"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// Services are the domain services served over HTTP.
type Services struct {
	Reconciler *progress.Reconciler
	Pusher     *progress.Pusher
	Publisher  *progress.Publisher
}

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes
// and manages the lifecycle of individual controllers.
type ControllerRegistry struct {
	general  *GeneralController
	progress *ProgressController
	effects  *EffectsController
	streams  *StreamsController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime, svcs Services, logger logpkg.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general:  NewGeneralController(rt),
		progress: NewProgressController(svcs, logger),
		effects:  NewEffectsController(rt.Effects()),
		streams:  NewStreamsController(rt.Streams()),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
//
// This sets up the health endpoint, the progress pull and push endpoints,
// the producer endpoints, effect read endpoints and stream inspection.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.progress.RegisterRoutes(mux)
	r.effects.RegisterRoutes(mux)
	r.streams.RegisterRoutes(mux)
}
