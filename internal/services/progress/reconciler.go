package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	streamsvc "github.com/rzbill/pulse/internal/services/streams"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

var (
	// ErrNotFound means there is nothing to show yet: no active run, or an
	// active run without any progress data.
	ErrNotFound = errors.New("progress: not found")
	// ErrTooManyStreams means the push connection limit is reached.
	ErrTooManyStreams = errors.New("progress: too many live streams")
)

// StateReader reads run hashes and owner indexes.
type StateReader interface {
	HGetAll(key string) (map[string]string, error)
	SMembers(key string) ([]string, error)
}

// LogReader reads run event streams.
type LogReader interface {
	LatestRecord(stream string) (streamsvc.Record, bool, error)
	Latest(stream string, n int) ([]streamsvc.Record, error)
	LatestID(stream string) (string, error)
	ReadCursor(ctx context.Context, stream, after string, block time.Duration, count int) ([]streamsvc.Record, error)
}

// Resolution is an owner's active run and its current view.
type Resolution struct {
	RunID string
	Meta  map[string]string
	View  View
}

// Reconciler composes progress views from run hashes and streams.
type Reconciler struct {
	state  StateReader
	log    LogReader
	keys   Keys
	logger logpkg.Logger
}

// NewReconciler returns a Reconciler reading through state and log.
func NewReconciler(state StateReader, log LogReader, keys Keys, logger logpkg.Logger) *Reconciler {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Reconciler{state: state, log: log, keys: keys, logger: logger.WithComponent("progress")}
}

// Keys returns the key layout in use.
func (r *Reconciler) Keys() Keys { return r.keys }

// GetLatestProgress returns the progress of owner's active run.
func (r *Reconciler) GetLatestProgress(ctx context.Context, owner string) (View, error) {
	res, err := r.Resolve(ctx, owner)
	if err != nil {
		return View{}, err
	}
	return res.View, nil
}

// Resolve finds owner's active run and composes its view. The snapshot
// hash wins; without one the newest stream record is used.
func (r *Reconciler) Resolve(ctx context.Context, owner string) (Resolution, error) {
	runID, meta, snap, err := r.ActiveRun(ctx, owner)
	if err != nil {
		return Resolution{}, err
	}
	events := r.keys.RunEvents(runID)

	if len(snap) > 0 {
		v := composeView(runID, meta, snap, owner)
		if last, err := r.log.LatestID(events); err == nil {
			v.LastEventID = last
		} else {
			r.logger.Debug("latest id unavailable", logpkg.Str("run", runID), logpkg.Err(err))
		}
		return Resolution{RunID: runID, Meta: meta, View: v}, nil
	}

	rec, ok, err := r.log.LatestRecord(events)
	if err != nil {
		return Resolution{}, fmt.Errorf("progress: read %s: %w", events, err)
	}
	if !ok {
		return Resolution{}, ErrNotFound
	}
	v := composeView(runID, meta, rec.Fields, owner)
	v.LastEventID = rec.ID
	return Resolution{RunID: runID, Meta: meta, View: v}, nil
}

// ActiveRun picks, among owner's indexed runs, the RUNNING one created
// last. Equal creation times fall back to the lexically greatest run ID.
// It also returns the chosen run's meta and snapshot hashes.
func (r *Reconciler) ActiveRun(ctx context.Context, owner string) (runID string, meta, snap map[string]string, err error) {
	if strings.TrimSpace(owner) == "" {
		return "", nil, nil, ErrNotFound
	}
	candidates, err := r.state.SMembers(r.keys.OwnerRuns(owner))
	if err != nil {
		return "", nil, nil, fmt.Errorf("progress: read run index: %w", err)
	}

	var bestCreated int64
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return "", nil, nil, err
		}
		m, s, err := r.runHashes(cand)
		if err != nil {
			return "", nil, nil, err
		}
		if runStatus(m, s) != StatusRunning {
			continue
		}
		created := millisValue(parseMillis(strings.TrimSpace(m["createdAt"])))
		if runID == "" || created > bestCreated || (created == bestCreated && cand > runID) {
			runID, meta, snap, bestCreated = cand, m, s, created
		}
	}
	if runID == "" {
		r.logger.Debug("no running run", logpkg.Str("owner", owner), logpkg.Int("candidates", len(candidates)))
		return "", nil, nil, ErrNotFound
	}
	return runID, meta, snap, nil
}

func (r *Reconciler) runHashes(runID string) (meta, snap map[string]string, err error) {
	meta, err = r.state.HGetAll(r.keys.RunMeta(runID))
	if err != nil {
		return nil, nil, fmt.Errorf("progress: read meta of %s: %w", runID, err)
	}
	snap, err = r.state.HGetAll(r.keys.RunSnapshot(runID))
	if err != nil {
		return nil, nil, fmt.Errorf("progress: read snapshot of %s: %w", runID, err)
	}
	return meta, snap, nil
}

// runStatus is the snapshot status when producers have written one, else
// the status recorded at run start.
func runStatus(meta, snap map[string]string) string {
	if s := strings.TrimSpace(snap["status"]); s != "" {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(strings.TrimSpace(meta["status"]))
}
