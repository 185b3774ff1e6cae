package progress

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Run statuses.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Event types carried by progress records.
const (
	EventStepUpdate   = "STEP_UPDATE"
	EventRunCompleted = "RUN_COMPLETED"
	EventRunFailed    = "RUN_FAILED"
)

// IsTerminal reports whether status ends a run.
func IsTerminal(status string) bool {
	s := strings.ToUpper(strings.TrimSpace(status))
	return s == StatusCompleted || s == StatusFailed
}

// View is the progress of one run as shown to clients. Absent numeric
// fields are nil.
type View struct {
	RunID       string   `json:"runId"`
	EventType   string   `json:"eventType"`
	UserID      string   `json:"userId,omitempty"`
	FileNo      string   `json:"fileNo,omitempty"`
	FileName    string   `json:"fileName,omitempty"`
	Size        *int64   `json:"size,omitempty"`
	CurrentStep string   `json:"currentStep,omitempty"`
	Status      string   `json:"status,omitempty"`
	Processed   *int64   `json:"processed,omitempty"`
	Total       *int64   `json:"total,omitempty"`
	ProgressPct *float64 `json:"progressPct,omitempty"`
	OverallPct  *float64 `json:"overallPct,omitempty"`
	Ts          *int64   `json:"ts,omitempty"`
	CreatedAt   *int64   `json:"createdAt,omitempty"`
	// LastEventID seeds the client cursor; empty when unknown.
	LastEventID string `json:"lastEventId,omitempty"`
}

// Terminal reports whether the view carries a terminal status.
func (v View) Terminal() bool { return IsTerminal(v.Status) }

// composeView builds a View from progress fields (snapshot or record)
// falling back to the run's meta fields.
func composeView(runID string, meta, fields map[string]string, owner string) View {
	pick := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(fields[k]); v != "" {
				return v
			}
		}
		return ""
	}
	fromMeta := func(k string) string { return strings.TrimSpace(meta[k]) }
	or := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}

	v := View{
		RunID:       or(pick("runId"), or(fromMeta("runId"), runID)),
		UserID:      or(fromMeta("userId"), or(pick("userId"), owner)),
		FileNo:      or(fromMeta("fileNo"), pick("fileNo")),
		FileName:    or(fromMeta("fileName"), pick("fileName")),
		Size:        parseInt(fromMeta("size")),
		CurrentStep: or(pick("currentStep", "step"), fromMeta("currentStep")),
		Status:      strings.ToUpper(or(pick("status"), fromMeta("status"))),
		Processed:   parseInt(or(pick("processed"), fromMeta("processed"))),
		Total:       parseInt(or(pick("total"), fromMeta("total"))),
		ProgressPct: parseFloat(or(pick("progressPct"), fromMeta("progressPct"))),
		OverallPct:  parseFloat(or(pick("overallPct"), fromMeta("overallPct"))),
		Ts:          parseMillis(or(pick("ts", "updatedAt"), fromMeta("updatedAt"))),
		CreatedAt:   parseMillis(fromMeta("createdAt")),
	}
	v.EventType = pick("eventType")
	if v.EventType == "" {
		v.EventType = eventTypeFor(v.Status)
	}
	return v
}

func eventTypeFor(status string) string {
	switch strings.ToUpper(status) {
	case StatusCompleted:
		return EventRunCompleted
	case StatusFailed:
		return EventRunFailed
	default:
		return EventStepUpdate
	}
}

func parseInt(s string) *int64 {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		n := int64(f)
		return &n
	}
	return nil
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseMillis accepts epoch milliseconds or an ISO-8601 timestamp. Zoneless
// timestamps are read as UTC. Anything else is absent.
func parseMillis(s string) *int64 {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ms := t.UnixMilli()
			return &ms
		}
	}
	return nil
}

func millisValue(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
