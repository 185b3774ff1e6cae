package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	transports "github.com/rzbill/pulse/internal/cmd/client/transports"
	"github.com/rzbill/pulse/internal/services/progress"
)

// grpcAddrFromEnv returns the gRPC server address from PULSE_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("PULSE_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:50051"
}

func getTransport(baseURL BaseURLFunc) transports.ProgressTransport {
	return transports.NewHTTPTransport(baseURL(), nil)
}

var (
	styleLabel   = lipgloss.NewStyle().Bold(true)
	styleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	styleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleMuted   = lipgloss.NewStyle().Faint(true)
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case progress.StatusCompleted:
		return styleDone
	case progress.StatusFailed:
		return styleFailed
	default:
		return styleRunning
	}
}

// bar renders pct as a fixed-width progress bar.
func bar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func pctOf(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// printView writes one progress line for v.
func printView(w io.Writer, v progress.View) {
	overall := pctOf(v.OverallPct)
	_, _ = fmt.Fprintf(w, "%s %s %s %s %5.1f%%\n",
		styleLabel.Render(v.RunID),
		statusStyle(v.Status).Render(v.Status),
		v.CurrentStep,
		bar(overall, 20),
		overall)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
