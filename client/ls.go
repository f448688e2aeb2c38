package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gammadia/standby/lifecycle"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"ps"},
	Short:   "List nodes",
	Args:    cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		nodes, err := client.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			cmd.PrintErrln("No nodes registered")
			return nil
		}

		bold := color.New(color.Bold)
		cmd.Print(renderTable(lsHeader(verbose), lsRows(nodes, time.Now(), verbose), func(row, col int, text string) string {
			switch {
			case row < 0:
				return bold.Sprint(text)
			case col == 0:
				return color.HiCyanString(text)
			case col == 1:
				return statusColor(nodes[row].Status).Sprint(text)
			default:
				return text
			}
		}))
		return nil
	},
}

func lsHeader(verbose bool) []string {
	header := []string{"ID", "STATUS", "HARDWARE", "TEE", "ACTIVE", "QUEUED", "TOTAL", "READY IN", "LAST ACTIVITY"}
	if verbose {
		header = append(header, "PRICE/H", "REGIONS")
	}
	return header
}

func lsRows(nodes []lifecycle.Metadata, now time.Time, verbose bool) [][]string {
	return lo.Map(nodes, func(node lifecycle.Metadata, _ int) []string {
		row := []string{
			node.ID,
			string(node.Status),
			formatHardware(node),
			string(node.TEEType),
			fmt.Sprint(node.ActiveRequests),
			fmt.Sprint(node.QueuedRequests),
			fmt.Sprint(node.TotalRequests),
			formatReadyIn(node),
			formatLastActivity(node, now),
		}
		if verbose {
			row = append(row, fmt.Sprintf("%.2f", node.PricePerHour), lo.Ternary(len(node.Regions) > 0, strings.Join(node.Regions, ","), "-"))
		}
		return row
	})
}
