package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	transports "github.com/rzbill/pulse/internal/cmd/client/transports"
	"github.com/rzbill/pulse/internal/services/progress"
)

// NewProgressCommand constructs the `progress` command group.
func NewProgressCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "progress", Short: "Query and watch ingestion progress"}
	cmd.PersistentFlags().String("user", "", "Owner (user) ID")
	cmd.PersistentFlags().Bool("json", false, "Print raw JSON")
	cmd.AddCommand(
		newProgressGetCommand(baseURL),
		newProgressRunsCommand(baseURL),
		newProgressWatchCommand(baseURL),
	)
	return cmd
}

func ownerFlag(cmd *cobra.Command) (string, error) {
	owner, _ := cmd.Flags().GetString("user")
	if owner == "" {
		return "", fmt.Errorf("--user is required")
	}
	return owner, nil
}

// newProgressGetCommand constructs the `progress get` subcommand.
func newProgressGetCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the latest progress of the active run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := ownerFlag(cmd)
			if err != nil {
				return err
			}
			v, err := getTransport(baseURL).Latest(cmd.Context(), owner)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), v)
			}
			printView(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

// newProgressRunsCommand constructs the `progress runs` subcommand.
func newProgressRunsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List running runs with per-step progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := ownerFlag(cmd)
			if err != nil {
				return err
			}
			list, err := getTransport(baseURL).Running(cmd.Context(), owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(out, list)
			}
			for _, r := range list.Runs {
				printView(out, r.View)
				for _, s := range r.Steps {
					_, _ = fmt.Fprintf(out, "  %-13s %s %5.1f%%\n", s.Step, bar(s.Pct, 10), s.Pct)
				}
			}
			_, _ = fmt.Fprintln(out, styleMuted.Render(fmt.Sprintf("total=%d completed=%d running=%d",
				list.Summary.Total, list.Summary.Completed, list.Summary.Running)))
			return nil
		},
	}
}

// newProgressWatchCommand constructs the `progress watch` subcommand.
func newProgressWatchCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the active run until it completes or fails",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := ownerFlag(cmd)
			if err != nil {
				return err
			}
			last, _ := cmd.Flags().GetString("last-event-id")
			asJSON, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()
			return getTransport(baseURL).Watch(cmd.Context(), owner, last, func(ev transports.Event) error {
				switch ev.Kind {
				case progress.FrameHeartbeat:
					return nil
				case progress.FrameError:
					var e struct {
						Error string `json:"error"`
					}
					_ = json.Unmarshal(ev.Data, &e)
					return fmt.Errorf("stream error: %s", e.Error)
				}
				if asJSON {
					_, err := fmt.Fprintf(out, "%s\n", ev.Data)
					return err
				}
				var v progress.View
				if err := json.Unmarshal(ev.Data, &v); err != nil {
					return fmt.Errorf("decode %s frame: %w", ev.Kind, err)
				}
				printView(out, v)
				return nil
			})
		},
	}
	cmd.Flags().String("last-event-id", "", "Resume after this record ID")
	return cmd
}
