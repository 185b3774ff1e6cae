package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStreamCommand constructs the `stream` command group.
func NewStreamCommand(baseURL BaseURLFunc) *cobra.Command {
	streamCmd := &cobra.Command{Use: "stream", Short: "Stream operations"}
	streamCmd.AddCommand(newStreamInfoCommand(baseURL))
	return streamCmd
}

// newStreamInfoCommand constructs the `stream info` subcommand.
func newStreamInfoCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show stream length and consumer groups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("stream")
			if name == "" {
				return fmt.Errorf("--stream is required")
			}
			info, err := getTransport(baseURL).StreamInfo(cmd.Context(), name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(out, info)
			}
			if !info.Exists {
				_, _ = fmt.Fprintln(out, styleMuted.Render(name+": no such stream"))
				return nil
			}
			_, _ = fmt.Fprintf(out, "%s length=%d first=%s last=%s\n", styleLabel.Render(info.Stream), info.Length, info.FirstID, info.LastID)
			for _, g := range info.Groups {
				_, _ = fmt.Fprintf(out, "  group=%s last-delivered=%s pending=%d consumers=%d\n",
					g.Name, g.LastDeliveredID, g.Pending, g.Consumers)
			}
			return nil
		},
	}
	cmd.Flags().String("stream", "", "Stream key")
	cmd.Flags().Bool("json", false, "Print raw JSON")
	return cmd
}
