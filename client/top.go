package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gammadia/standby/lifecycle"
	"github.com/gammadia/standby/server/api"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the status of every node, refreshed continuously",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		ping, err := client.Ping(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to ping server: %w", err)
		}
		interval := lo.Must(cmd.Flags().GetDuration("interval"))

		app := tview.NewApplication()

		header := tview.NewTextView().
			SetDynamicColors(true).
			SetWordWrap(true).
			SetTextAlign(tview.AlignLeft)
		header.SetBorder(true).SetTitle(" Standby ")

		nodesTable := tview.NewTable().
			SetFixed(1, 0).
			SetSelectable(true, false)
		nodesTable.SetBorder(true).SetTitle(" Nodes ")

		layout := tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(header, 4, 0, false).
			AddItem(nodesTable, 0, 1, true)

		app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			if event.Rune() == 'q' {
				app.Stop()
				return nil
			}
			return event
		})

		// Only accessed from tview's event loop (via QueueUpdateDraw)
		var lastNodes []lifecycle.Metadata
		var lastErr error

		render := func() {
			header.Clear()
			fmt.Fprint(header, topSummary(ping, lastNodes, lastErr))
			renderNodes(nodesTable, lastNodes, time.Now())
		}

		done := make(chan struct{})

		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				nodes, err := client.List(cmd.Context())
				app.QueueUpdateDraw(func() {
					lastErr = err
					if err == nil {
						lastNodes = nodes
					}
					render()
				})

				select {
				case <-done:
					return
				case <-cmd.Context().Done():
					app.Stop()
					return
				case <-ticker.C:
				}
			}
		}()

		err = app.SetRoot(layout, true).Run()
		close(done)
		return err
	},
}

func init() {
	topCmd.Flags().Duration("interval", time.Second, "refresh interval")
}

func topSummary(ping api.Ping, nodes []lifecycle.Metadata, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, " [yellow]Standby[white] %s (%s)", ping.Version, shortCommit(ping.Commit))
	if err != nil {
		fmt.Fprintf(&b, "  |  [red]%s[white]", tview.Escape(err.Error()))
	}
	b.WriteString("\n ")

	counts := map[lifecycle.NodeStatus]int{}
	for _, node := range nodes {
		counts[node.Status]++
	}
	active := lo.SumBy(nodes, func(n lifecycle.Metadata) int { return n.ActiveRequests })
	queued := lo.SumBy(nodes, func(n lifecycle.Metadata) int { return n.QueuedRequests })

	parts := []string{fmt.Sprintf("Nodes: [yellow]%d[white]", len(nodes))}
	for _, status := range statusDisplayOrder {
		if counts[status] > 0 {
			parts = append(parts, fmt.Sprintf("%s: [yellow]%d[white]", status, counts[status]))
		}
	}
	parts = append(parts, fmt.Sprintf("Requests: [yellow]%d[white] active, [yellow]%d[white] queued", active, queued))
	b.WriteString(strings.Join(parts, "  |  "))
	return b.String()
}

func renderNodes(table *tview.Table, nodes []lifecycle.Metadata, now time.Time) {
	table.Clear()
	table.SetTitle(fmt.Sprintf(" Nodes (%d) ", len(nodes)))

	for col, title := range lsHeader(false) {
		table.SetCell(0, col, tview.NewTableCell(title).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false).
			SetExpansion(1))
	}

	sorted := slices.Clone(nodes)
	slices.SortStableFunc(sorted, func(a, b lifecycle.Metadata) int {
		if oa, ob := nodeStatusOrder(a.Status), nodeStatusOrder(b.Status); oa != ob {
			return oa - ob
		}
		return strings.Compare(a.ID, b.ID)
	})

	for row, cells := range lsRows(sorted, now, false) {
		for col, text := range cells {
			cell := tview.NewTableCell(text).SetExpansion(1).SetTextColor(tcell.ColorWhite)
			switch col {
			case 0:
				cell.SetTextColor(tcell.ColorAqua)
			case 1:
				cell.SetTextColor(nodeStatusColor(sorted[row].Status))
			}
			table.SetCell(row+1, col, cell)
		}
	}
}

var statusDisplayOrder = []lifecycle.NodeStatus{
	lifecycle.NodeStatusActive,
	lifecycle.NodeStatusReady,
	lifecycle.NodeStatusIdle,
	lifecycle.NodeStatusDraining,
	lifecycle.NodeStatusProvisioning,
	lifecycle.NodeStatusError,
	lifecycle.NodeStatusCold,
}

func nodeStatusOrder(status lifecycle.NodeStatus) int {
	if i := slices.Index(statusDisplayOrder, status); i >= 0 {
		return i
	}
	return len(statusDisplayOrder)
}

func nodeStatusColor(status lifecycle.NodeStatus) tcell.Color {
	switch status {
	case lifecycle.NodeStatusReady, lifecycle.NodeStatusActive:
		return tcell.ColorGreen
	case lifecycle.NodeStatusIdle:
		return tcell.ColorAqua
	case lifecycle.NodeStatusProvisioning, lifecycle.NodeStatusDraining:
		return tcell.ColorYellow
	case lifecycle.NodeStatusError:
		return tcell.ColorRed
	default:
		return tcell.ColorGray
	}
}
