package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/gammadia/standby/catalog"
	"github.com/gammadia/standby/lifecycle"
	"github.com/gammadia/standby/server/flags"
	"github.com/gammadia/standby/server/log"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	viper.Set(flags.LogFormat, "text")
	viper.Set(flags.LogLevel, "ERROR")
	if err := log.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type echoProvisioner struct{}

func (echoProvisioner) Provision(_ context.Context, config lifecycle.NodeConfig) (lifecycle.Allocation, error) {
	return lifecycle.Allocation{Endpoint: lifecycle.Endpoint{Address: "http://" + config.ID + ".test"}}, nil
}

func (echoProvisioner) Terminate(context.Context, string) error {
	return nil
}

func newTestManager(t *testing.T) *lifecycle.Manager {
	t.Helper()

	m := lifecycle.New(echoProvisioner{}, lifecycle.Config{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		IdleTimeout:  time.Hour,
		MaxQueueWait: time.Second,
		PollInterval: 10 * time.Millisecond,
		DrainTimeout: time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func testNode(id, image string) lifecycle.NodeConfig {
	return lifecycle.NodeConfig{
		ID:             id,
		HardwareType:   lifecycle.HardwareTypeCPU,
		CPUCores:       2,
		MemoryGB:       4,
		ContainerImage: image,
		ColdStart:      10 * time.Second,
	}
}

func put(config lifecycle.NodeConfig) catalog.Change {
	return catalog.Change{Type: catalog.ChangePut, ID: config.ID, Config: config}
}

func TestApplyChangeRegistersNewNode(t *testing.T) {
	m := newTestManager(t)

	applyChange(context.Background(), m, put(testNode("n1", "worker:1")))

	node, err := m.Node("n1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.NodeStatusCold, node.Status)
	assert.Equal(t, "worker:1", node.Config.ContainerImage)
}

func TestApplyChangeKeepsUnchangedNode(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	applyChange(ctx, m, put(testNode("n1", "worker:1")))
	_, err := m.Provision(ctx, "n1")
	require.NoError(t, err)

	applyChange(ctx, m, put(testNode("n1", "worker:1")))

	node, err := m.Node("n1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.NodeStatusReady, node.Status)
}

func TestApplyChangeReplacesChangedNode(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	applyChange(ctx, m, put(testNode("n1", "worker:1")))
	_, err := m.Provision(ctx, "n1")
	require.NoError(t, err)

	applyChange(ctx, m, put(testNode("n1", "worker:2")))

	node, err := m.Node("n1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.NodeStatusCold, node.Status)
	assert.Equal(t, "worker:2", node.Config.ContainerImage)
}

func TestApplyChangeDelete(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	applyChange(ctx, m, put(testNode("n1", "worker:1")))
	applyChange(ctx, m, catalog.Change{Type: catalog.ChangeDelete, ID: "n1"})

	_, err := m.Node("n1")
	assert.ErrorIs(t, err, lifecycle.ErrUnknownNode)

	// Deleting an unknown node is not an error worth failing on
	applyChange(ctx, m, catalog.Change{Type: catalog.ChangeDelete, ID: "n1"})
}

func TestSyncCatalog(t *testing.T) {
	m := newTestManager(t)

	changes := make(chan catalog.Change, 3)
	changes <- put(testNode("n1", "worker:1"))
	changes <- put(testNode("n2", "worker:1"))
	changes <- catalog.Change{Type: catalog.ChangeDelete, ID: "n1"}
	close(changes)

	syncCatalog(context.Background(), m, changes)

	nodes := m.List()
	require.Len(t, nodes, 1)
	assert.Equal(t, "n2", nodes[0].ID)
}
