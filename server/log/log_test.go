package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, setup(&buf, "json", "INFO", false))

	Debug("hidden")
	Info("Node registered", "node", "n1")
	Component("catalog").Warn("Catalog entry skipped")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))

	assert.Equal(t, "Node registered", first["msg"])
	assert.Equal(t, "server", first["component"])
	assert.Equal(t, "n1", first["node"])
	assert.Equal(t, "catalog", second["component"])
	assert.Equal(t, "WARN", second["level"])
}

func TestSetupText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, setup(&buf, "text", "debug", false))

	Debug("Provisioning node")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "component=server")
}

func TestSetupRejectsInvalidSettings(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorContains(t, setup(&buf, "xml", "INFO", false), "unknown log format")
	assert.ErrorContains(t, setup(&buf, "text", "LOUD", false), "failed to parse log level")
}
