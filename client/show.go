package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gammadia/standby/lifecycle"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show NODE",
	Short: "Show node details",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := client.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		writeNode(cmd.OutOrStdout(), node, time.Now())
		return nil
	},
}

func writeNode(w io.Writer, node lifecycle.Metadata, now time.Time) {
	line := func(label, format string, args ...any) {
		fmt.Fprintf(w, "%-15s %s\n", label+":", fmt.Sprintf(format, args...))
	}

	name := color.HiCyanString(node.ID)
	if node.Name != node.ID {
		name += fmt.Sprintf(" (%s)", node.Name)
	}
	line("Node", "%s", name)
	line("Status", "%s", statusColor(node.Status).Sprint(node.Status))
	line("Hardware", "%s", formatHardware(node))
	line("TEE", "%s", node.TEEType)
	line("Reachable", "%s", lo.Ternary(node.Reachable, "yes", "no"))
	line("Ready in", "%s", formatReadyIn(node))
	line("Price", "%.2f/h", node.PricePerHour)
	if len(node.Regions) > 0 {
		line("Regions", "%s", strings.Join(node.Regions, ", "))
	}
	line("Requests", "%d active, %d queued, %d total", node.ActiveRequests, node.QueuedRequests, node.TotalRequests)
	line("Last activity", "%s", formatLastActivity(node, now))
	if node.Error != "" {
		line("Error", "%s", color.HiRedString(node.Error))
	}
}
