package progress

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rzbill/pulse/pkg/id"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// Frame kinds sent to push clients.
const (
	FrameInitial   = "initial"
	FrameProgress  = "progress"
	FrameHeartbeat = "heartbeat"
	FrameError     = "error"
)

// Frame is one push event. View is nil for heartbeats and errors.
type Frame struct {
	Kind  string
	ID    string
	View  *View
	Error string
}

// Sink delivers frames to one client.
type Sink interface {
	Send(f Frame) error
}

// PusherOptions tunes a Pusher.
type PusherOptions struct {
	// Block is how long one read waits before a heartbeat is sent.
	Block time.Duration
	Count int
	// MaxStreams caps concurrent connections.
	MaxStreams int
	// MaxLifetime ends a connection after this long; clients resume with
	// Last-Event-ID. Zero means unbounded.
	MaxLifetime time.Duration
	Logger      logpkg.Logger
}

// Pusher streams an owner's active run to a connected client.
type Pusher struct {
	rec    *Reconciler
	log    LogReader
	sem    *semaphore.Weighted
	opts   PusherOptions
	logger logpkg.Logger
}

// NewPusher returns a Pusher resolving runs through rec.
func NewPusher(rec *Reconciler, log LogReader, opts PusherOptions) *Pusher {
	if opts.Block <= 0 {
		opts.Block = 10 * time.Second
	}
	if opts.Count <= 0 {
		opts.Count = 10
	}
	if opts.MaxStreams <= 0 {
		opts.MaxStreams = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Pusher{
		rec:    rec,
		log:    log,
		sem:    semaphore.NewWeighted(int64(opts.MaxStreams)),
		opts:   opts,
		logger: logger.WithComponent("pusher"),
	}
}

// Stream sends an initial frame, then progress frames as records arrive
// and heartbeats while idle. It returns nil after forwarding a terminal
// record, ctx.Err() when the client goes away or the lifetime elapses,
// and the failing error otherwise. lastEventID, when valid, replaces the
// initial cursor.
func (p *Pusher) Stream(ctx context.Context, owner, lastEventID string, sink Sink) error {
	if !p.sem.TryAcquire(1) {
		return ErrTooManyStreams
	}
	defer p.sem.Release(1)
	if p.opts.MaxLifetime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.MaxLifetime)
		defer cancel()
	}

	res, err := p.rec.Resolve(ctx, owner)
	if err != nil {
		_ = sink.Send(Frame{Kind: FrameError, Error: err.Error()})
		return err
	}
	events := p.rec.Keys().RunEvents(res.RunID)
	cursor := p.startCursor(events, res.View, lastEventID)
	logger := p.logger.With(logpkg.Str("owner", owner), logpkg.Str("run", res.RunID))

	initial := res.View
	if err := sink.Send(Frame{Kind: FrameInitial, ID: cursor, View: &initial}); err != nil {
		return err
	}
	logger.Debug("stream opened", logpkg.Str("cursor", cursor))
	if initial.Terminal() {
		return nil
	}

	for {
		recs, err := p.log.ReadCursor(ctx, events, cursor, p.opts.Block, p.opts.Count)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("read failed", logpkg.Err(err))
			_ = sink.Send(Frame{Kind: FrameError, Error: err.Error()})
			return err
		}
		if len(recs) == 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := sink.Send(Frame{Kind: FrameHeartbeat}); err != nil {
				logger.Debug("heartbeat not delivered", logpkg.Err(err))
			}
			continue
		}
		for _, rec := range recs {
			v := composeView(res.RunID, res.Meta, rec.Fields, owner)
			v.LastEventID = rec.ID
			if err := sink.Send(Frame{Kind: FrameProgress, ID: rec.ID, View: &v}); err != nil {
				return err
			}
			cursor = rec.ID
			if v.Terminal() {
				logger.Debug("stream finished", logpkg.Str("status", v.Status))
				return nil
			}
		}
	}
}

// startCursor prefers a valid client cursor, then the view's seed, then the
// stream tail resolved once. A run without records starts at "0".
func (p *Pusher) startCursor(events string, v View, lastEventID string) string {
	if lastEventID != "" {
		if _, err := id.Parse(lastEventID); err == nil {
			return lastEventID
		}
	}
	if v.LastEventID != "" {
		return v.LastEventID
	}
	if last, err := p.log.LatestID(events); err == nil && last != "" {
		return last
	}
	return "0"
}
