package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gammadia/standby/lifecycle"
	"github.com/rivo/uniseg"
)

// renderTable lays rows out in columns as wide as their widest cell, measured
// in terminal cells. paint, if set, decorates a cell before it is padded; the
// header row is painted with row -1.
func renderTable(header []string, rows [][]string, paint func(row, col int, text string) string) string {
	widths := make([]int, len(header))
	for _, r := range append([][]string{header}, rows...) {
		for col, text := range r {
			widths[col] = max(widths[col], uniseg.StringWidth(text))
		}
	}

	var b strings.Builder
	write := func(row int, r []string) {
		for col, text := range r {
			padding := widths[col] - uniseg.StringWidth(text)
			if paint != nil {
				text = paint(row, col, text)
			}
			b.WriteString(text)
			if col < len(r)-1 {
				b.WriteString(strings.Repeat(" ", padding+2))
			}
		}
		b.WriteString("\n")
	}

	write(-1, header)
	for row, r := range rows {
		write(row, r)
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func formatReadyIn(node lifecycle.Metadata) string {
	switch {
	case node.Status.Servable():
		return "now"
	case node.Status == lifecycle.NodeStatusError, node.Status == lifecycle.NodeStatusDraining:
		return "-"
	default:
		return formatDuration(node.TimeToReady)
	}
}

func formatLastActivity(node lifecycle.Metadata, now time.Time) string {
	if node.LastActivity == nil {
		return "-"
	}
	return formatDuration(now.Sub(*node.LastActivity)) + " ago"
}

func formatHardware(node lifecycle.Metadata) string {
	if node.HardwareType != lifecycle.HardwareTypeGPU {
		return string(node.HardwareType)
	}
	if node.GPUMemoryGB > 0 {
		return fmt.Sprintf("gpu (%s, %dGB)", node.GPUType, node.GPUMemoryGB)
	}
	return fmt.Sprintf("gpu (%s)", node.GPUType)
}

func statusColor(status lifecycle.NodeStatus) *color.Color {
	switch status {
	case lifecycle.NodeStatusReady, lifecycle.NodeStatusActive:
		return color.New(color.FgHiGreen)
	case lifecycle.NodeStatusIdle:
		return color.New(color.FgHiCyan)
	case lifecycle.NodeStatusProvisioning, lifecycle.NodeStatusDraining:
		return color.New(color.FgHiYellow)
	case lifecycle.NodeStatusError:
		return color.New(color.FgHiRed)
	default:
		return color.New(color.FgHiBlack)
	}
}
