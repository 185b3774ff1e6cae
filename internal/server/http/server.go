package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rzbill/pulse/internal/runtime"
	"github.com/rzbill/pulse/internal/server/http/controllers"
	"github.com/rzbill/pulse/internal/services/progress"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// Server is the HTTP gateway over a Runtime.
type Server struct {
	rt     *runtime.Runtime
	srv    *http.Server
	lis    net.Listener
	logger logpkg.Logger

	// base parents every request context; it is cancelled when the server
	// shuts down so long-lived push streams end with it.
	base       context.Context
	cancelBase context.CancelFunc
}

// NewServices builds the progress services from the runtime config.
func NewServices(rt *runtime.Runtime, logger logpkg.Logger) controllers.Services {
	cfg := rt.Config()
	keys := progress.Keys{
		RunPrefix:    cfg.Keys.RunPrefix,
		OwnerPrefix:  cfg.Keys.OwnerPrefix,
		FilePrefix:   cfg.Keys.FilePrefix,
		GlobalStream: cfg.Keys.GlobalStream,
	}
	rec := progress.NewReconciler(rt.State(), rt.Streams(), keys, logger)
	return controllers.Services{
		Reconciler: rec,
		Pusher: progress.NewPusher(rec, rt.Streams(), progress.PusherOptions{
			Block:       time.Duration(cfg.Pusher.BlockMs) * time.Millisecond,
			Count:       cfg.Pusher.Count,
			MaxStreams:  cfg.Pusher.MaxStreams,
			MaxLifetime: time.Duration(cfg.Pusher.MaxLifetimeMs) * time.Millisecond,
			Logger:      logger,
		}),
		Publisher: progress.NewPublisher(rt.State(), rt.Streams(), keys, progress.PublisherOptions{
			RunMaxLen:        cfg.Retention.RunMaxLen,
			GlobalMaxLen:     cfg.Retention.GlobalMaxLen,
			DebounceDeltaPct: cfg.Publisher.DebounceDeltaPct,
			Logger:           logger,
		}),
	}
}

// New builds a Server with services derived from rt.
func New(rt *runtime.Runtime, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return NewWithServices(rt, NewServices(rt, logger), logger)
}

// NewWithServices builds a Server around existing services.
func NewWithServices(rt *runtime.Runtime, svcs controllers.Services, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	mux := http.NewServeMux()
	controllers.NewControllerRegistry(rt, svcs, logger).RegisterAllRoutes(mux)
	s := &Server{rt: rt, logger: logger.WithComponent("http")}
	s.base, s.cancelBase = context.WithCancel(context.Background())
	s.srv = &http.Server{
		Handler:           cors(s.logRequests(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.base },
	}
	s.srv.RegisterOnShutdown(s.cancelBase)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Addr returns the bound address once listening.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done. Shutdown cancels the context of every
// open request, so push streams close instead of holding the drain open.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.lis = l
	s.logger.Info("http listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close cancels open requests and releases the listener.
func (s *Server) Close() {
	s.cancelBase()
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			logpkg.Str("method", r.Method),
			logpkg.Str("path", r.URL.Path),
			logpkg.Dur("took", time.Since(start)))
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-Id, Last-Event-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
