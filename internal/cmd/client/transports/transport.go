package transports

import (
	"context"
	"encoding/json"

	"github.com/rzbill/pulse/internal/services/progress"
)

// Event is one server-sent event received while watching progress.
type Event struct {
	ID   string
	Kind string
	Data json.RawMessage
}

// GroupInfo describes a consumer group returned by StreamInfo.
type GroupInfo struct {
	Name            string `json:"name"`
	LastDeliveredID string `json:"lastDeliveredId"`
	EntriesRead     int64  `json:"entriesRead"`
	Pending         int    `json:"pending"`
	Consumers       int    `json:"consumers"`
}

// StreamInfo summarizes one event log stream.
type StreamInfo struct {
	Stream  string      `json:"stream"`
	Exists  bool        `json:"exists"`
	Length  int64       `json:"length"`
	FirstID string      `json:"firstId"`
	LastID  string      `json:"lastId"`
	Groups  []GroupInfo `json:"groups"`
}

// ProgressTransport abstracts the transport used by the CLI for progress
// and producer operations.
type ProgressTransport interface {
	Latest(ctx context.Context, owner string) (progress.View, error)
	Running(ctx context.Context, owner string) (progress.RunningList, error)
	Watch(ctx context.Context, owner, lastEventID string, onEvent func(Event) error) error
	StartRun(ctx context.Context, rs progress.RunStart) (string, error)
	PushEvent(ctx context.Context, ev progress.Event) (progress.PushResult, error)
	StreamInfo(ctx context.Context, stream string) (StreamInfo, error)
}

// HealthTransport reports server health.
type HealthTransport interface {
	Check(ctx context.Context, service string) (string, error)
}
