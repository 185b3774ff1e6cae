package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	cfgpkg "github.com/rzbill/pulse/internal/config"
	"github.com/rzbill/pulse/internal/eventlog"
	streamsvc "github.com/rzbill/pulse/internal/services/streams"
	"github.com/rzbill/pulse/internal/statestore"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	sqlitestore "github.com/rzbill/pulse/internal/storage/sqlite"
	"github.com/rzbill/pulse/pkg/id"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// healthKey is probed by CheckHealth; it never exists.
var healthKey = []byte("health/probe")

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
}

// Runtime wires storage, config, and facades for a single-node instance.
type Runtime struct {
	db      *pebblestore.DB
	log     *eventlog.Store
	state   *statestore.Store
	effects *sqlitestore.Store
	streams *streamsvc.Service
	config  cfgpkg.Config
	logger  logpkg.Logger
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	layout := cfgpkg.LayoutFor(opts.DataDir)
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	logger = logger.WithComponent("runtime")

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       layout.Pebble,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	effects, err := sqlitestore.New(layout.Effects)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	trimLogger := logger.With(logpkg.Str("op", "trim"))
	store := eventlog.Open(db, eventlog.WithTrimHook(eventlog.TrimHookFunc(func(stream string, first, last id.ID, n int) {
		trimLogger.Debug("stream trimmed",
			logpkg.Str("stream", stream),
			logpkg.Str("first", first.String()),
			logpkg.Str("last", last.String()),
			logpkg.Int("deleted", n))
	})))

	rt := &Runtime{
		db:      db,
		log:     store,
		state:   statestore.New(db),
		effects: effects,
		config:  opts.Config,
		logger:  logger,
	}
	rt.streams = streamsvc.New(store, logger.WithComponent("streams"))
	logger.Info("runtime opened", logpkg.Str("data_dir", layout.Root))
	return rt, nil
}

// Close wakes blocked readers and closes storage.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	var errs []error
	if err := r.log.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.effects.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sqlite: %w", err))
	}
	if err := r.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pebble: %w", err))
	}
	return errors.Join(errs...)
}

// CheckHealth probes both stores.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil || r.db.Closed() {
		return errors.New("db not open")
	}
	if _, err := r.db.Has(healthKey); err != nil {
		return fmt.Errorf("pebble: %w", err)
	}
	if err := r.effects.Ping(ctx); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return nil
}

// Streams returns the event log client.
func (r *Runtime) Streams() *streamsvc.Service { return r.streams }

// EventLog exposes the embedded log engine.
func (r *Runtime) EventLog() *eventlog.Store { return r.log }

// State returns the hash and set store for run state.
func (r *Runtime) State() *statestore.Store { return r.state }

// Effects returns the SQLite effects store.
func (r *Runtime) Effects() *sqlitestore.Store { return r.effects }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Logger returns the runtime logger.
func (r *Runtime) Logger() logpkg.Logger { return r.logger }
