package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays PULSE_* environment variables onto cfg. Values that do not
// parse are ignored.
func FromEnv(cfg *Config) {
	setString("PULSE_DATA_DIR", &cfg.DataDir)
	setString("PULSE_FSYNC", &cfg.Fsync)
	setInt("PULSE_FSYNC_INTERVAL_MS", &cfg.FsyncIntervalMs)
	setString("PULSE_LOG_LEVEL", &cfg.Log.Level)
	setString("PULSE_LOG_FORMAT", &cfg.Log.Format)
	setString("PULSE_HTTP_ADDR", &cfg.HTTPAddr)
	setString("PULSE_GRPC_ADDR", &cfg.GRPCAddr)

	setString("PULSE_KEYS_RUN_PREFIX", &cfg.Keys.RunPrefix)
	setString("PULSE_KEYS_OWNER_PREFIX", &cfg.Keys.OwnerPrefix)
	setString("PULSE_KEYS_FILE_PREFIX", &cfg.Keys.FilePrefix)
	setString("PULSE_KEYS_GLOBAL_STREAM", &cfg.Keys.GlobalStream)

	setInt64("PULSE_RETENTION_RUN_MAXLEN", &cfg.Retention.RunMaxLen)
	setInt64("PULSE_RETENTION_GLOBAL_MAXLEN", &cfg.Retention.GlobalMaxLen)
	setInt64("PULSE_RETENTION_DLQ_MAXLEN", &cfg.Retention.DeadLetterMaxLen)

	setInt("PULSE_PUSH_BLOCK_MS", &cfg.Pusher.BlockMs)
	setInt("PULSE_PUSH_COUNT", &cfg.Pusher.Count)
	setInt("PULSE_PUSH_MAX_STREAMS", &cfg.Pusher.MaxStreams)
	setInt("PULSE_PUSH_MAX_LIFETIME_MS", &cfg.Pusher.MaxLifetimeMs)

	if v := os.Getenv("PULSE_PUBLISH_DEBOUNCE_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Publisher.DebounceDeltaPct = f
		}
	}

	for name, f := range cfg.Subscribers.Families() {
		prefix := "PULSE_SUB_" + strings.ToUpper(name) + "_"
		setBool(prefix+"ENABLED", &f.Enabled)
		setString(prefix+"STREAM", &f.Stream)
		setString(prefix+"GROUP", &f.Group)
		setString(prefix+"MODE", &f.Mode)
		setInt(prefix+"POLL_INTERVAL_MS", &f.PollIntervalMs)
		setInt(prefix+"COUNT", &f.Count)
		setInt(prefix+"BLOCK_MS", &f.BlockMs)
		setString(prefix+"FILTER", &f.Filter)
		setBool(prefix+"DEAD_LETTER", &f.DeadLetter)
	}
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
