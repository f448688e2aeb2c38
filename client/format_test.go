package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/gammadia/standby/lifecycle"
	"github.com/stretchr/testify/assert"
)

func TestRenderTable(t *testing.T) {
	got := renderTable(
		[]string{"ID", "STATUS"},
		[][]string{{"n1", "ready"}, {"gpu-node", "cold"}},
		nil,
	)
	assert.Equal(t, "ID        STATUS\nn1        ready\ngpu-node  cold\n", got)
}

func TestRenderTable_WideCharacters(t *testing.T) {
	got := renderTable([]string{"A", "B"}, [][]string{{"日本", "x"}}, nil)
	assert.Equal(t, "A     B\n日本  x\n", got)
}

func TestRenderTable_PaintDoesNotAffectWidths(t *testing.T) {
	got := renderTable([]string{"ID", "STATUS"}, [][]string{{"n1", "ready"}}, func(row, col int, text string) string {
		if row >= 0 && col == 0 {
			return "<" + text + ">"
		}
		return text
	})
	assert.Equal(t, "ID  STATUS\n<n1>  ready\n", got)
}

func TestFormatReadyIn(t *testing.T) {
	assert.Equal(t, "now", formatReadyIn(lifecycle.Metadata{Status: lifecycle.NodeStatusIdle}))
	assert.Equal(t, "45s", formatReadyIn(lifecycle.Metadata{Status: lifecycle.NodeStatusCold, TimeToReady: 45 * time.Second}))
	assert.Equal(t, "-", formatReadyIn(lifecycle.Metadata{Status: lifecycle.NodeStatusError}))
}

func TestFormatHardware(t *testing.T) {
	assert.Equal(t, "cpu", formatHardware(lifecycle.Metadata{HardwareType: lifecycle.HardwareTypeCPU}))
	assert.Equal(t, "gpu (A100, 80GB)", formatHardware(lifecycle.Metadata{HardwareType: lifecycle.HardwareTypeGPU, GPUType: "A100", GPUMemoryGB: 80}))
	assert.Equal(t, "gpu (L4)", formatHardware(lifecycle.Metadata{HardwareType: lifecycle.HardwareTypeGPU, GPUType: "L4"}))
}

func TestLsRows(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-90 * time.Second)
	nodes := []lifecycle.Metadata{{
		ID:             "n1",
		Status:         lifecycle.NodeStatusActive,
		HardwareType:   lifecycle.HardwareTypeCPU,
		TEEType:        lifecycle.TEETypeTDX,
		ActiveRequests: 2,
		TotalRequests:  9,
		LastActivity:   &last,
		PricePerHour:   1.5,
		Regions:        []string{"eu-west", "us-east"},
	}}

	assert.Equal(t,
		[][]string{{"n1", "active", "cpu", "tdx", "2", "0", "9", "now", "1m 30s ago"}},
		lsRows(nodes, now, false),
	)
	assert.Equal(t,
		[][]string{{"n1", "active", "cpu", "tdx", "2", "0", "9", "now", "1m 30s ago", "1.50", "eu-west,us-east"}},
		lsRows(nodes, now, true),
	)
}

func TestWriteNode(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer
	writeNode(&out, lifecycle.Metadata{
		ID:           "n1",
		Name:         "Inference A",
		Status:       lifecycle.NodeStatusError,
		HardwareType: lifecycle.HardwareTypeCPU,
		TEEType:      lifecycle.TEETypeNone,
		PricePerHour: 0.25,
		Error:        "no capacity",
	}, time.Now())

	assert.Equal(t, ""+
		"Node:           n1 (Inference A)\n"+
		"Status:         error\n"+
		"Hardware:       cpu\n"+
		"TEE:            none\n"+
		"Reachable:      no\n"+
		"Ready in:       -\n"+
		"Price:          0.25/h\n"+
		"Requests:       0 active, 0 queued, 0 total\n"+
		"Last activity:  -\n"+
		"Error:          no capacity\n",
		out.String(),
	)
}
