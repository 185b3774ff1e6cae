package client

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewRoot constructs a root Cobra command for the pulse client.
// It registers the progress, run, stream and health command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "pulse",
		Short: "pulse client commands",
	}
	Register(root, baseURL)
	return root
}

// Register adds the client command groups to root.
func Register(root *cobra.Command, baseURL BaseURLFunc) {
	root.AddCommand(
		NewProgressCommand(baseURL),
		NewRunCommand(baseURL),
		NewStreamCommand(baseURL),
		NewHealthCommand(),
	)
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
