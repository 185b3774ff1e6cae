// Package config provides loading and environment overlay for pulse runtime
// configuration. Default() is the baseline; Load overlays a JSON or YAML
// file and FromEnv overlays PULSE_* variables.
//
// Example:
//
//	cfg, err := config.Load("/etc/pulse.yaml")
//	if err != nil { /* handle */ }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { /* handle */ }
//	rt, _ := runtime.Open(runtime.Options{DataDir: cfg.DataDir, Config: cfg})
//	defer rt.Close()
package config
