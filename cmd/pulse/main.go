package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/pulse/internal/cmd/client"
	serverrun "github.com/rzbill/pulse/internal/cmd/server"
	cfgpkg "github.com/rzbill/pulse/internal/config"
	pebblestore "github.com/rzbill/pulse/internal/storage/pebble"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "pulse",
		Short:        "pulse progress runtime CLI",
		Long:         "pulse tracks ingestion runs, serves their progress over HTTP and SSE, and materializes stream side effects.",
		SilenceUsage: true,
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start pulse server (gRPC, HTTP and subscribers)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := logpkg.ApplyConfig(&cfg.Log)
			if err != nil {
				return fmt.Errorf("invalid log config: %w", err)
			}
			// Pebble logs through the standard library.
			restore := logpkg.RedirectStdLog(logger)
			defer restore()

			mode := pebblestore.ParseFsyncMode(cfg.Fsync)
			if mode == pebblestore.FsyncModeUnspecified {
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       cfg.DataDir,
				GRPCAddr:      cfg.GRPCAddr,
				HTTPAddr:      cfg.HTTPAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(cfg.FsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
				Logger:        logger,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", os.Getenv("PULSE_CONFIG"), "Config file (JSON or YAML)")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("grpc", "", "gRPC listen address (default :50051)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default :8080)")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 0, "When --fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	clientcmd.Register(rootCmd, apiURL)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, PULSE_* env and flags.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfgpkg.FromEnv(&cfg)
	flags := map[string]*string{
		"data-dir":   &cfg.DataDir,
		"grpc":       &cfg.GRPCAddr,
		"http":       &cfg.HTTPAddr,
		"fsync":      &cfg.Fsync,
		"log-level":  &cfg.Log.Level,
		"log-format": &cfg.Log.Format,
	}
	for name, dst := range flags {
		if v, _ := cmd.Flags().GetString(name); v != "" {
			*dst = v
		}
	}
	if v, _ := cmd.Flags().GetInt("fsync-interval-ms"); v > 0 {
		cfg.FsyncIntervalMs = v
	}
	return cfg, nil
}

func apiURL() string {
	if v := os.Getenv("PULSE_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
