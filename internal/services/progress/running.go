package progress

import (
	"context"
	"fmt"
	"sort"
	"strings"

	streamsvc "github.com/rzbill/pulse/internal/services/streams"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// Steps lists the pipeline steps in execution order.
var Steps = []string{"UPLOAD", "EXTRACTION", "EMBEDDING", "VECTOR_STORE"}

// stepScan bounds how many recent records are read per run for step percentages.
const stepScan = 1000

// StepProgress is the completion percent of one step.
type StepProgress struct {
	Step string  `json:"step"`
	Pct  float64 `json:"pct"`
}

// RunningRun is a RUNNING run with its per-step breakdown.
type RunningRun struct {
	View
	Steps []StepProgress `json:"steps"`
}

// Summary counts an owner's indexed runs.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Running   int `json:"running"`
}

// RunningList is the result of ListRunning.
type RunningList struct {
	Runs    []RunningRun `json:"runs"`
	Summary Summary      `json:"summary"`
}

// ListRunning returns owner's RUNNING runs newest first, with a summary over
// every indexed run that still has meta.
func (r *Reconciler) ListRunning(ctx context.Context, owner string) (RunningList, error) {
	if strings.TrimSpace(owner) == "" {
		return RunningList{}, ErrNotFound
	}
	members, err := r.state.SMembers(r.keys.OwnerRuns(owner))
	if err != nil {
		return RunningList{}, fmt.Errorf("progress: read run index: %w", err)
	}
	out := RunningList{Runs: []RunningRun{}}
	for _, runID := range members {
		if err := ctx.Err(); err != nil {
			return RunningList{}, err
		}
		meta, snap, err := r.runHashes(runID)
		if err != nil {
			return RunningList{}, err
		}
		if len(meta) == 0 {
			continue
		}
		out.Summary.Total++
		switch runStatus(meta, snap) {
		case StatusCompleted:
			out.Summary.Completed++
		case StatusRunning:
			out.Summary.Running++
			base := composeView(runID, meta, snap, owner)
			recs, err := r.log.Latest(r.keys.RunEvents(runID), stepScan)
			if err != nil {
				r.logger.Warn("step scan failed", logpkg.Str("run", runID), logpkg.Err(err))
			}
			out.Runs = append(out.Runs, RunningRun{View: base, Steps: stepBreakdown(base, fieldsOf(recs))})
		}
	}
	if out.Summary.Total == 0 {
		return RunningList{}, ErrNotFound
	}
	sort.SliceStable(out.Runs, func(i, j int) bool {
		a, b := recency(out.Runs[i].View), recency(out.Runs[j].View)
		if a != b {
			return a > b
		}
		return out.Runs[i].RunID > out.Runs[j].RunID
	})
	return out, nil
}

func recency(v View) int64 {
	if v.Ts != nil {
		return *v.Ts
	}
	return millisValue(v.CreatedAt)
}

func fieldsOf(recs []streamsvc.Record) []map[string]string {
	out := make([]map[string]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.Fields
	}
	return out
}

// stepBreakdown takes, for each step, the percent of its newest record.
// newest lists record fields newest first.
func stepBreakdown(base View, newest []map[string]string) []StepProgress {
	pct := map[string]float64{}
	for _, f := range newest {
		step := normalizeStep(firstNonEmpty(f["currentStep"], f["step"]))
		if step == "" {
			continue
		}
		if _, seen := pct[step]; seen {
			continue
		}
		if p := parseFloat(f["progressPct"]); p != nil {
			pct[step] = *p
		} else if strings.EqualFold(f["stepStatus"], StatusCompleted) {
			pct[step] = 100
		}
	}
	if step := normalizeStep(base.CurrentStep); step != "" && base.ProgressPct != nil {
		if _, seen := pct[step]; !seen {
			pct[step] = *base.ProgressPct
		}
	}
	out := make([]StepProgress, len(Steps))
	for i, s := range Steps {
		out[i] = StepProgress{Step: s, Pct: pct[s]}
	}
	return out
}

func normalizeStep(name string) string {
	n := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	for _, s := range Steps {
		if s == n {
			return n
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
