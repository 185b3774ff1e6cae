package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logpkg "github.com/rzbill/pulse/pkg/log"
	"gopkg.in/yaml.v3"
)

// Read modes of a subscriber family.
const (
	ModeGroup  = "group"
	ModeCursor = "cursor"
)

// Family names.
const (
	FamilyUploads       = "uploads"
	FamilyErrors        = "errors"
	FamilyUsage         = "usage"
	FamilyNotifications = "notifications"
	FamilyKeywords      = "keywords"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir         string        `json:"dataDir" yaml:"dataDir"`
	Fsync           string        `json:"fsync" yaml:"fsync"`
	FsyncIntervalMs int           `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
	HTTPAddr        string        `json:"httpAddr" yaml:"httpAddr"`
	GRPCAddr        string        `json:"grpcAddr" yaml:"grpcAddr"`
	Log             logpkg.Config `json:"log" yaml:"log"`
	Keys            Keys          `json:"keys" yaml:"keys"`
	Retention       Retention     `json:"retention" yaml:"retention"`
	Pusher          Pusher        `json:"pusher" yaml:"pusher"`
	Publisher       Publisher     `json:"publisher" yaml:"publisher"`
	Subscribers     Subscribers   `json:"subscribers" yaml:"subscribers"`
}

// Keys holds the key conventions shared with producers.
type Keys struct {
	// RunPrefix yields {prefix}{runId}:events, :meta and :latest.
	RunPrefix string `json:"runPrefix" yaml:"runPrefix"`
	// OwnerPrefix yields {prefix}{ownerId}:runs.
	OwnerPrefix string `json:"ownerPrefix" yaml:"ownerPrefix"`
	// FilePrefix yields {prefix}{fileNo}:latest_run_id.
	FilePrefix   string `json:"filePrefix" yaml:"filePrefix"`
	GlobalStream string `json:"globalStream" yaml:"globalStream"`
}

// Retention caps stream lengths.
type Retention struct {
	RunMaxLen        int64 `json:"runMaxLen" yaml:"runMaxLen"`
	GlobalMaxLen     int64 `json:"globalMaxLen" yaml:"globalMaxLen"`
	DeadLetterMaxLen int64 `json:"deadLetterMaxLen" yaml:"deadLetterMaxLen"`
}

// Pusher tunes live progress connections.
type Pusher struct {
	BlockMs    int `json:"blockMs" yaml:"blockMs"`
	Count      int `json:"count" yaml:"count"`
	MaxStreams int `json:"maxStreams" yaml:"maxStreams"`
	// MaxLifetimeMs closes a push connection after this long; 0 disables.
	MaxLifetimeMs int `json:"maxLifetimeMs" yaml:"maxLifetimeMs"`
}

// Publisher tunes the producer side.
type Publisher struct {
	// DebounceDeltaPct is the minimum overall progress change that rewrites
	// the snapshot hash.
	DebounceDeltaPct float64 `json:"debounceDeltaPct" yaml:"debounceDeltaPct"`
}

// Subscriber configures one stream family.
type Subscriber struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Stream         string `json:"stream" yaml:"stream"`
	Group          string `json:"group" yaml:"group"`
	Mode           string `json:"mode" yaml:"mode"`
	PollIntervalMs int    `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	Count          int    `json:"count" yaml:"count"`
	BlockMs        int    `json:"blockMs" yaml:"blockMs"`
	Filter         string `json:"filter" yaml:"filter"`
	DeadLetter     bool   `json:"deadLetter" yaml:"deadLetter"`
}

// PollInterval returns the poll interval as a duration.
func (s Subscriber) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// Block returns the read block timeout as a duration.
func (s Subscriber) Block() time.Duration { return time.Duration(s.BlockMs) * time.Millisecond }

// Subscribers lists the built-in stream families.
type Subscribers struct {
	Uploads       Subscriber `json:"uploads" yaml:"uploads"`
	Errors        Subscriber `json:"errors" yaml:"errors"`
	Usage         Subscriber `json:"usage" yaml:"usage"`
	Notifications Subscriber `json:"notifications" yaml:"notifications"`
	Keywords      Subscriber `json:"keywords" yaml:"keywords"`
}

// Families returns the families keyed by name.
func (s *Subscribers) Families() map[string]*Subscriber {
	return map[string]*Subscriber{
		FamilyUploads:       &s.Uploads,
		FamilyErrors:        &s.Errors,
		FamilyUsage:         &s.Usage,
		FamilyNotifications: &s.Notifications,
		FamilyKeywords:      &s.Keywords,
	}
}

func family(stream, group, mode string) Subscriber {
	return Subscriber{
		Enabled:        true,
		Stream:         stream,
		Group:          group,
		Mode:           mode,
		PollIntervalMs: 1000,
		Count:          50,
		BlockMs:        1000,
		DeadLetter:     true,
	}
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:         "",
		Fsync:           "interval",
		FsyncIntervalMs: 5,
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		Log:             logpkg.Config{Level: "info", Format: "text"},
		Keys: Keys{
			RunPrefix:    "ingest:run:",
			OwnerPrefix:  "ingest:user:",
			FilePrefix:   "ingest:file:",
			GlobalStream: "ingest:progress",
		},
		Retention: Retention{RunMaxLen: 500, GlobalMaxLen: 20000, DeadLetterMaxLen: 1000},
		Pusher:    Pusher{BlockMs: 10000, Count: 10, MaxStreams: 256, MaxLifetimeMs: 30 * 60 * 1000},
		Publisher: Publisher{DebounceDeltaPct: 1.0},
		Subscribers: Subscribers{
			Uploads:       family("ingest:uploads", "backend-ingest-uploads", ModeGroup),
			Errors:        family("generation:history:errors", "backend-generation-errors", ModeGroup),
			Usage:         family("generation:history:metrics", "", ModeCursor),
			Notifications: family("ingest:progress", "backend-ingest-notifications", ModeGroup),
			Keywords:      family("generation:history:queries", "", ModeCursor),
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over the
// defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse yaml %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse json %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot work with.
func (c Config) Validate() error {
	var errs []error
	if c.Pusher.BlockMs <= 0 || c.Pusher.Count <= 0 || c.Pusher.MaxStreams <= 0 {
		errs = append(errs, errors.New("pusher: blockMs, count and maxStreams must be positive"))
	}
	if c.Pusher.MaxLifetimeMs < 0 {
		errs = append(errs, errors.New("pusher: maxLifetimeMs must not be negative"))
	}
	if c.Retention.RunMaxLen <= 0 || c.Retention.GlobalMaxLen <= 0 || c.Retention.DeadLetterMaxLen <= 0 {
		errs = append(errs, errors.New("retention: max lengths must be positive"))
	}
	if c.Keys.RunPrefix == "" || c.Keys.OwnerPrefix == "" || c.Keys.GlobalStream == "" {
		errs = append(errs, errors.New("keys: runPrefix, ownerPrefix and globalStream are required"))
	}
	for name, f := range c.Subscribers.Families() {
		if !f.Enabled {
			continue
		}
		if f.Stream == "" {
			errs = append(errs, fmt.Errorf("subscribers.%s: stream is required", name))
		}
		switch f.Mode {
		case ModeGroup:
			if f.Group == "" {
				errs = append(errs, fmt.Errorf("subscribers.%s: group is required in group mode", name))
			}
		case ModeCursor:
		default:
			errs = append(errs, fmt.Errorf("subscribers.%s: unknown mode %q", name, f.Mode))
		}
		if f.PollIntervalMs <= 0 || f.Count <= 0 || f.BlockMs < 0 {
			errs = append(errs, fmt.Errorf("subscribers.%s: pollIntervalMs and count must be positive", name))
		}
	}
	return errors.Join(errs...)
}
