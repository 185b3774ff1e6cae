package client

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	transports "github.com/rzbill/pulse/internal/cmd/client/transports"
)

// NewHealthCommand constructs the `health` command, which queries the
// gRPC health service.
func NewHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = grpcAddrFromEnv()
			}
			svc, _ := cmd.Flags().GetString("service")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := contextWithTimeout(cmd, timeout)
			defer cancel()
			status, err := transports.NewGrpcHealthTransport(addr).Check(ctx, svc)
			if err != nil {
				return err
			}
			style := styleDone
			if status != "SERVING" {
				style = styleFailed
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", style.Render(status))
			return nil
		},
	}
	cmd.Flags().String("addr", "", "gRPC address (default $PULSE_GRPC or 127.0.0.1:50051)")
	cmd.Flags().String("service", "", "Health service name")
	cmd.Flags().Duration("timeout", 3*time.Second, "Request timeout")
	return cmd
}
