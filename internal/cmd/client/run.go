package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/pulse/internal/services/progress"
)

// NewRunCommand constructs the `run` command group for producers.
func NewRunCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "run", Short: "Record runs and their step updates"}
	cmd.AddCommand(newRunStartCommand(baseURL), newRunEventCommand(baseURL))
	return cmd
}

// newRunStartCommand constructs the `run start` subcommand.
func newRunStartCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Register a new run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rs progress.RunStart
			rs.RunID, _ = cmd.Flags().GetString("run")
			rs.UserID, _ = cmd.Flags().GetString("user")
			rs.FileNo, _ = cmd.Flags().GetString("file-no")
			rs.FileName, _ = cmd.Flags().GetString("file-name")
			rs.Size, _ = cmd.Flags().GetInt64("size")
			runID, err := getTransport(baseURL).StartRun(cmd.Context(), rs)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "run:", runID)
			return nil
		},
	}
	cmd.Flags().String("run", "", "Run ID (generated when empty)")
	cmd.Flags().String("user", "", "Owner (user) ID")
	cmd.Flags().String("file-no", "", "File number")
	cmd.Flags().String("file-name", "", "File name")
	cmd.Flags().Int64("size", 0, "File size in bytes")
	return cmd
}

// newRunEventCommand constructs the `run event` subcommand.
func newRunEventCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Push a step update for a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var ev progress.Event
			ev.RunID, _ = cmd.Flags().GetString("run")
			ev.FileNo, _ = cmd.Flags().GetString("file-no")
			ev.UserID, _ = cmd.Flags().GetString("user")
			ev.CurrentStep, _ = cmd.Flags().GetString("step")
			ev.Status, _ = cmd.Flags().GetString("status")
			if cmd.Flags().Changed("processed") {
				n, _ := cmd.Flags().GetInt64("processed")
				ev.Processed = &n
			}
			if cmd.Flags().Changed("total") {
				n, _ := cmd.Flags().GetInt64("total")
				ev.Total = &n
			}
			res, err := getTransport(baseURL).PushEvent(cmd.Context(), ev)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %.1f%% id=%s\n",
				res.RunID, statusStyle(res.Status).Render(res.Status), res.CurrentStep, res.OverallPct, res.RecordID)
			return nil
		},
	}
	cmd.Flags().String("run", "", "Run ID")
	cmd.Flags().String("file-no", "", "File number (resolves the file's latest run when --run is empty)")
	cmd.Flags().String("user", "", "Owner (user) ID")
	cmd.Flags().String("step", "", "Step: UPLOAD|EXTRACTION|EMBEDDING|VECTOR_STORE")
	cmd.Flags().String("status", "", "Step status: PENDING|RUNNING|COMPLETED|FAILED")
	cmd.Flags().Int64("processed", 0, "Processed units")
	cmd.Flags().Int64("total", 0, "Total units")
	return cmd
}
