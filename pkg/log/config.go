package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Config declares a process logger.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	// Output is stderr (default), stdout or null.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
	// SampleInitial/SampleThereafter enable per-message sampling when
	// SampleThereafter > 0.
	SampleInitial    int      `json:"sample_initial,omitempty" yaml:"sample_initial,omitempty"`
	SampleThereafter int      `json:"sample_thereafter,omitempty" yaml:"sample_thereafter,omitempty"`
	Redact           []string `json:"redact,omitempty" yaml:"redact,omitempty"`
}

// ParseLevel parses debug|info|warn|error, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// ApplyConfig builds a logger from cfg. A nil cfg yields info/json/stderr.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		formatter = &JSONFormatter{}
	case "text":
		formatter = &TextFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	var out Output
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out = NewConsoleOutput()
	case "stdout":
		out = NewWriterOutput(os.Stdout)
	case "null":
		out = NullOutput{}
	default:
		return nil, fmt.Errorf("log: unknown output %q", cfg.Output)
	}
	l := NewLogger(WithLevel(level), WithFormatter(formatter), WithOutput(out)).(*BaseLogger)
	h := newBridgeHandler(l).withRedactions(cfg.Redact).withSampler(cfg.SampleInitial, cfg.SampleThereafter)
	l.slogLogger = slog.New(h)
	return l, nil
}
