package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/pulse/internal/config"
	"github.com/rzbill/pulse/internal/effects"
	"github.com/rzbill/pulse/internal/runtime"
	grpcserver "github.com/rzbill/pulse/internal/server/grpc"
	httpserver "github.com/rzbill/pulse/internal/server/http"
	"github.com/rzbill/pulse/internal/subscriber"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

type Options struct {
	DataDir       string
	GRPCAddr      string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
}

// Run opens the runtime, starts the effect subscribers and the gRPC and
// HTTP servers, and blocks until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	if err := opts.Config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	rt, err := runtime.Open(runtime.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	subs, err := BuildSubscribers(rt, logger)
	if err != nil {
		return err
	}
	sched := subscriber.NewScheduler(subs...)

	logger.Info("Starting pulse server",
		logpkg.Str("grpc", opts.GRPCAddr),
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Int("subscribers", len(subs)),
	)

	gsrv := grpcserver.New(rt, logger)
	hsrv := httpserver.New(rt, logger)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		if err := gsrv.ListenAndServe(gctx, opts.GRPCAddr); err != nil {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := hsrv.ListenAndServe(gctx, opts.HTTPAddr); err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error { return sched.Run(gctx) })

	// Both servers have drained, push streams included, by the time Wait
	// returns; the deferred runtime close comes after.
	err = g.Wait()
	gsrv.Close()
	hsrv.Close()
	if err != nil {
		logger.Error("server stopped", logpkg.Err(err))
	}
	return err
}

// BuildSubscribers creates one subscriber per enabled family, each bound
// to the effect handler that materializes it.
func BuildSubscribers(rt *runtime.Runtime, logger logpkg.Logger) ([]*subscriber.Subscriber, error) {
	cfg := rt.Config()
	store := rt.Effects()
	families := cfg.Subscribers.Families()
	var subs []*subscriber.Subscriber
	for _, name := range []string{cfgpkg.FamilyUploads, cfgpkg.FamilyErrors, cfgpkg.FamilyUsage, cfgpkg.FamilyNotifications, cfgpkg.FamilyKeywords} {
		fam := families[name]
		if !fam.Enabled {
			logger.Info("subscriber disabled", logpkg.Str("family", name))
			continue
		}
		hl := logger.WithComponent("effects").With(logpkg.Str("family", name))
		var h subscriber.RecordHandler
		switch name {
		case cfgpkg.FamilyUploads:
			h = &effects.UploadCounter{Store: store, Source: fam.Stream, Logger: hl}
		case cfgpkg.FamilyErrors:
			h = &effects.ErrorCounter{Store: store, Source: fam.Stream, Logger: hl}
		case cfgpkg.FamilyUsage:
			h = &effects.UsageCounter{Store: store, Source: fam.Stream, Logger: hl}
		case cfgpkg.FamilyNotifications:
			h = &effects.IngestNotifier{Store: store, Logger: hl}
		case cfgpkg.FamilyKeywords:
			h = &effects.KeywordCounter{Store: store, Source: fam.Stream, Logger: hl}
		}
		strategy := subscriber.CursorRead()
		if fam.Mode == cfgpkg.ModeGroup {
			strategy = subscriber.GroupRead(fam.Group)
		}
		sub, err := subscriber.New(rt.Streams(), h, subscriber.Options{
			Name:             name,
			Stream:           fam.Stream,
			Strategy:         strategy,
			Count:            fam.Count,
			Block:            fam.Block(),
			Interval:         fam.PollInterval(),
			Filter:           fam.Filter,
			DeadLetter:       fam.DeadLetter,
			DeadLetterMaxLen: cfg.Retention.DeadLetterMaxLen,
			Logger:           logger,
		})
		if err != nil {
			return nil, fmt.Errorf("subscriber %s: %w", name, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
