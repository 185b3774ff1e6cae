package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	streamsvc "github.com/rzbill/pulse/internal/services/streams"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// ErrInvalidEvent rejects producer input that cannot be applied.
var ErrInvalidEvent = errors.New("progress: invalid event")

// stepWeights are the shares of each step in the overall percent.
var stepWeights = map[string]float64{
	"UPLOAD":       0.20,
	"EXTRACTION":   0.30,
	"EMBEDDING":    0.40,
	"VECTOR_STORE": 0.10,
}

// StateWriter is the hash, set and value store the publisher writes.
type StateWriter interface {
	StateReader
	HSet(ctx context.Context, key string, fields map[string]string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	Set(ctx context.Context, key, value string) error
	Get(key string) (string, bool, error)
}

// LogWriter appends to and bounds streams.
type LogWriter interface {
	Append(ctx context.Context, stream string, fields map[string]string) (string, error)
	Trim(ctx context.Context, stream string, maxLen int64, approximate bool) int
	Latest(stream string, n int) ([]streamsvc.Record, error)
}

// PublisherOptions tunes a Publisher.
type PublisherOptions struct {
	RunMaxLen    int64
	GlobalMaxLen int64
	// DebounceDeltaPct is the minimum overall change that rewrites the snapshot.
	DebounceDeltaPct float64
	Logger           logpkg.Logger
	Now              func() time.Time
}

// Publisher is the producer side: it starts runs and records progress.
type Publisher struct {
	state  StateWriter
	log    LogWriter
	keys   Keys
	opts   PublisherOptions
	logger logpkg.Logger
}

// NewPublisher returns a Publisher.
func NewPublisher(state StateWriter, log LogWriter, keys Keys, opts PublisherOptions) *Publisher {
	if opts.RunMaxLen <= 0 {
		opts.RunMaxLen = 500
	}
	if opts.GlobalMaxLen <= 0 {
		opts.GlobalMaxLen = 20000
	}
	if opts.DebounceDeltaPct < 0 {
		opts.DebounceDeltaPct = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Publisher{state: state, log: log, keys: keys, opts: opts, logger: logger.WithComponent("publisher")}
}

// RunStart describes a new run. RunID and CreatedAt are filled when zero.
type RunStart struct {
	RunID     string `json:"runId"`
	UserID    string `json:"userId"`
	FileNo    string `json:"fileNo"`
	FileName  string `json:"fileName"`
	Size      int64  `json:"size"`
	CreatedAt int64  `json:"createdAt"`
}

// StartRun writes the run meta hash, indexes the run under its owner and
// records it as the latest run of its file.
func (p *Publisher) StartRun(ctx context.Context, rs RunStart) (string, error) {
	if strings.TrimSpace(rs.UserID) == "" {
		return "", fmt.Errorf("%w: userId is required", ErrInvalidEvent)
	}
	if rs.RunID == "" {
		rs.RunID = uuid.NewString()
	}
	if rs.CreatedAt == 0 {
		rs.CreatedAt = p.opts.Now().UnixMilli()
	}
	meta := map[string]string{
		"runId":     rs.RunID,
		"userId":    rs.UserID,
		"status":    StatusRunning,
		"createdAt": strconv.FormatInt(rs.CreatedAt, 10),
		"size":      strconv.FormatInt(rs.Size, 10),
	}
	if rs.FileNo != "" {
		meta["fileNo"] = rs.FileNo
	}
	if rs.FileName != "" {
		meta["fileName"] = rs.FileName
	}
	if err := p.state.HSet(ctx, p.keys.RunMeta(rs.RunID), meta); err != nil {
		return "", fmt.Errorf("progress: write meta: %w", err)
	}
	if err := p.state.SAdd(ctx, p.keys.OwnerRuns(rs.UserID), rs.RunID); err != nil {
		return "", fmt.Errorf("progress: index run: %w", err)
	}
	if rs.FileNo != "" {
		if err := p.state.Set(ctx, p.keys.FileLatestRun(rs.FileNo), rs.RunID); err != nil {
			return "", fmt.Errorf("progress: record file run: %w", err)
		}
	}
	p.logger.Info("run started", logpkg.Str("run", rs.RunID), logpkg.Str("owner", rs.UserID))
	return rs.RunID, nil
}

// Event is one producer progress update. RunID may be omitted when FileNo
// resolves to the file's latest run.
type Event struct {
	RunID       string `json:"runId"`
	UserID      string `json:"userId"`
	FileNo      string `json:"fileNo"`
	CurrentStep string `json:"currentStep"`
	Status      string `json:"status"`
	Processed   *int64 `json:"processed,omitempty"`
	Total       *int64 `json:"total,omitempty"`
	EventType   string `json:"eventType"`
	Ts          int64  `json:"ts"`
}

// PushResult reports what PushEvent wrote.
type PushResult struct {
	RunID           string  `json:"runId"`
	RecordID        string  `json:"recordId"`
	Status          string  `json:"status"`
	CurrentStep     string  `json:"currentStep"`
	OverallPct      float64 `json:"overallPct"`
	SnapshotWritten bool    `json:"snapshotWritten"`
}

// PushEvent folds ev into the run's aggregate progress, appends it to the
// run stream and the global stream, refreshes the snapshot when progress
// moved enough, and closes the run on a terminal status.
func (p *Publisher) PushEvent(ctx context.Context, ev Event) (PushResult, error) {
	runID, err := p.resolveRun(ev)
	if err != nil {
		return PushResult{}, err
	}
	step := normalizeStep(ev.CurrentStep)
	if step == "" {
		return PushResult{}, fmt.Errorf("%w: currentStep must be one of %s", ErrInvalidEvent, strings.Join(Steps, ", "))
	}
	meta, err := p.state.HGetAll(p.keys.RunMeta(runID))
	if err != nil {
		return PushResult{}, fmt.Errorf("progress: read meta: %w", err)
	}
	owner := firstNonEmpty(ev.UserID, meta["userId"])
	ts := ev.Ts
	if ts == 0 {
		ts = p.opts.Now().UnixMilli()
	}
	stepStatus := normalizeStatus(ev.Status)

	fields := map[string]string{
		"runId":       runID,
		"userId":      owner,
		"fileNo":      firstNonEmpty(ev.FileNo, meta["fileNo"]),
		"fileName":    meta["fileName"],
		"currentStep": step,
		"stepStatus":  stepStatus,
		"processed":   optInt(ev.Processed),
		"total":       optInt(ev.Total),
		"ts":          strconv.FormatInt(ts, 10),
	}

	history, err := p.log.Latest(p.keys.RunEvents(runID), int(p.opts.RunMaxLen))
	if err != nil {
		return PushResult{}, err
	}
	agg := aggregate(append([]map[string]string{fields}, fieldsOf(history)...))

	fields["status"] = agg.status
	fields["eventType"] = firstNonEmpty(ev.EventType, EventStepUpdate)
	fields["progressPct"] = formatPct(agg.perStep[step])
	fields["overallPct"] = formatPct(agg.overall)

	rid, err := p.log.Append(ctx, p.keys.RunEvents(runID), fields)
	if err != nil {
		return PushResult{}, err
	}
	p.log.Trim(ctx, p.keys.RunEvents(runID), p.opts.RunMaxLen, true)
	if _, err := p.log.Append(ctx, p.keys.GlobalStream, fields); err != nil {
		return PushResult{}, err
	}
	p.log.Trim(ctx, p.keys.GlobalStream, p.opts.GlobalMaxLen, true)

	res := PushResult{RunID: runID, RecordID: rid, Status: agg.status, CurrentStep: agg.current, OverallPct: agg.overall}
	if res.SnapshotWritten, err = p.writeSnapshot(ctx, runID, owner, fields, agg, ts); err != nil {
		return res, err
	}

	if IsTerminal(agg.status) {
		if err := p.finish(ctx, runID, owner, fields, agg); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (p *Publisher) resolveRun(ev Event) (string, error) {
	if id := strings.TrimSpace(ev.RunID); id != "" {
		return id, nil
	}
	if fileNo := strings.TrimSpace(ev.FileNo); fileNo != "" {
		id, ok, err := p.state.Get(p.keys.FileLatestRun(fileNo))
		if err != nil {
			return "", fmt.Errorf("progress: resolve file run: %w", err)
		}
		if ok && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: runId is required (or a fileNo with a started run)", ErrInvalidEvent)
}

func (p *Publisher) writeSnapshot(ctx context.Context, runID, owner string, fields map[string]string, agg aggregation, ts int64) (bool, error) {
	key := p.keys.RunSnapshot(runID)
	prev, err := p.state.HGetAll(key)
	if err != nil {
		return false, fmt.Errorf("progress: read snapshot: %w", err)
	}
	write := len(prev) == 0 ||
		IsTerminal(agg.status) ||
		prev["status"] != agg.status ||
		prev["currentStep"] != agg.current
	if !write {
		if old := parseFloat(prev["overallPct"]); old == nil || math.Abs(agg.overall-*old) >= p.opts.DebounceDeltaPct {
			write = true
		}
	}
	if !write {
		return false, nil
	}
	snap := map[string]string{
		"runId":       runID,
		"status":      agg.status,
		"currentStep": firstNonEmpty(agg.current, fields["currentStep"]),
		"processed":   fields["processed"],
		"total":       fields["total"],
		"progressPct": formatPct(agg.perStep[firstNonEmpty(agg.current, fields["currentStep"])]),
		"overallPct":  formatPct(agg.overall),
		"updatedAt":   time.UnixMilli(ts).UTC().Format(time.RFC3339Nano),
	}
	if owner != "" {
		snap["userId"] = owner
	}
	if err := p.state.HSet(ctx, key, snap); err != nil {
		return false, fmt.Errorf("progress: write snapshot: %w", err)
	}
	return true, nil
}

func (p *Publisher) finish(ctx context.Context, runID, owner string, fields map[string]string, agg aggregation) error {
	if owner != "" {
		if err := p.state.SRem(ctx, p.keys.OwnerRuns(owner), runID); err != nil {
			return fmt.Errorf("progress: unindex run: %w", err)
		}
	}
	summary := make(map[string]string, len(fields))
	for k, v := range fields {
		summary[k] = v
	}
	summary["eventType"] = eventTypeFor(agg.status)
	summary["currentStep"] = firstNonEmpty(agg.current, fields["currentStep"])
	if _, err := p.log.Append(ctx, p.keys.GlobalStream, summary); err != nil {
		return err
	}
	p.log.Trim(ctx, p.keys.GlobalStream, p.opts.GlobalMaxLen, true)
	p.logger.Info("run finished",
		logpkg.Str("run", runID),
		logpkg.Str("status", agg.status),
		logpkg.Float64("overall_pct", agg.overall))
	return nil
}

type stepState struct {
	processed, total int64
	hasTotal         bool
	status           string
	ts               int64
}

type aggregation struct {
	perStep map[string]float64
	overall float64
	current string
	status  string
}

// aggregate folds step records, newest first, into run progress.
func aggregate(newest []map[string]string) aggregation {
	states := make(map[string]*stepState, len(Steps))
	for _, s := range Steps {
		states[s] = &stepState{ts: math.MinInt64}
	}
	for i := len(newest) - 1; i >= 0; i-- {
		f := newest[i]
		st := states[normalizeStep(firstNonEmpty(f["currentStep"], f["step"]))]
		if st == nil {
			continue
		}
		if n := parseInt(f["processed"]); n != nil && *n > st.processed {
			st.processed = *n
		}
		if n := parseInt(f["total"]); n != nil && *n > st.total {
			st.total, st.hasTotal = *n, true
		}
		status := normalizeStatus(firstNonEmpty(f["stepStatus"], legacyStepStatus(f)))
		ts := millisValue(parseMillis(f["ts"]))
		if status != "" && ts >= st.ts {
			st.status, st.ts = status, ts
		}
	}

	agg := aggregation{perStep: make(map[string]float64, len(Steps))}
	failed, allDone := false, true
	for _, s := range Steps {
		st := states[s]
		pct := 0.0
		switch {
		case st.hasTotal && st.total > 0:
			pct = math.Max(0, math.Min(100, 100*float64(st.processed)/float64(st.total)))
		case st.status == StatusCompleted:
			pct = 100
		}
		agg.perStep[s] = pct
		agg.overall += stepWeights[s] * pct
		switch st.status {
		case StatusFailed:
			failed = true
		case StatusRunning:
			agg.current = s
		}
		if pct < 100 {
			allDone = false
		}
	}
	agg.overall = math.Max(0, math.Min(100, agg.overall))
	if agg.current == "" {
		for _, s := range Steps {
			if states[s].status == StatusCompleted {
				agg.current = s
			}
		}
	}

	switch {
	case failed:
		agg.status = StatusFailed
	case allDone:
		agg.status = StatusCompleted
		agg.overall = 100
		agg.current = Steps[len(Steps)-1]
	default:
		// A started run stays RUNNING until a step fails or all complete.
		agg.status = StatusRunning
	}
	return agg
}

// legacyStepStatus reads step status from records written without a
// stepStatus field.
func legacyStepStatus(f map[string]string) string {
	if _, ok := f["stepStatus"]; ok {
		return ""
	}
	return f["status"]
}

func normalizeStatus(s string) string {
	switch n := strings.ToUpper(strings.TrimSpace(s)); n {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return n
	default:
		return ""
	}
}

func optInt(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}

func formatPct(f float64) string { return strconv.FormatFloat(f, 'f', 6, 64) }
