package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gammadia/standby/catalog"
	"github.com/gammadia/standby/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvisioner struct {
	err error
}

func (p *fakeProvisioner) Provision(_ context.Context, config lifecycle.NodeConfig) (lifecycle.Allocation, error) {
	if p.err != nil {
		return lifecycle.Allocation{}, p.err
	}
	return lifecycle.Allocation{Endpoint: lifecycle.Endpoint{Address: "http://" + config.ID + ".test"}}, nil
}

func (p *fakeProvisioner) Terminate(context.Context, string) error {
	return nil
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(t *testing.T, provisioner lifecycle.Provisioner, config Config) (*lifecycle.Manager, *Client) {
	t.Helper()

	manager := lifecycle.New(provisioner, lifecycle.Config{
		Logger:       discard,
		IdleTimeout:  time.Hour,
		MaxQueueWait: time.Second,
		PollInterval: 10 * time.Millisecond,
		DrainTimeout: time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	config.Logger = discard
	server := httptest.NewServer(NewHandler(manager, config))
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, server.Client())
	require.NoError(t, err)
	return manager, client
}

func testSpec(id string) catalog.NodeSpec {
	return catalog.NodeSpec{
		ID:             id,
		HardwareType:   "cpu",
		CPUCores:       4,
		MemoryGB:       16,
		ContainerImage: "ghcr.io/example/worker:latest",
		ColdStart:      "45s",
		PricePerHour:   0.5,
	}
}

func requireAPIError(t *testing.T, err error, status int, kind lifecycle.ErrorKind) {
	t.Helper()

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, status, apiErr.Status)
	assert.Equal(t, kind, apiErr.Kind)
}

func TestPing(t *testing.T) {
	_, client := newTestServer(t, &fakeProvisioner{}, Config{Version: "1.2.3", Commit: "abcdef0"})

	ping, err := client.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ping{Version: "1.2.3", Commit: "abcdef0"}, ping)
}

func TestRegisterAndGet(t *testing.T) {
	_, client := newTestServer(t, &fakeProvisioner{}, Config{})
	ctx := context.Background()

	node, err := client.Register(ctx, testSpec("n1"))
	require.NoError(t, err)
	assert.Equal(t, "n1", node.ID)
	assert.Equal(t, lifecycle.NodeStatusCold, node.Status)
	assert.Equal(t, 45*time.Second, node.TimeToReady)
	assert.False(t, node.Reachable)

	node, err = client.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", node.Name)
	assert.Equal(t, lifecycle.TEETypeNone, node.TEEType)

	_, err = client.Register(ctx, testSpec("n0"))
	require.NoError(t, err)

	nodes, err := client.List(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "n0", nodes[0].ID)
	assert.Equal(t, "n1", nodes[1].ID)
}

func TestRegisterConflict(t *testing.T) {
	_, client := newTestServer(t, &fakeProvisioner{}, Config{})
	ctx := context.Background()

	_, err := client.Register(ctx, testSpec("n1"))
	require.NoError(t, err)

	_, err = client.Register(ctx, testSpec("n1"))
	requireAPIError(t, err, http.StatusConflict, lifecycle.ErrorKindConflict)
	assert.ErrorIs(t, err, lifecycle.ErrNodeExists)
}

func TestRegisterInvalid(t *testing.T) {
	_, client := newTestServer(t, &fakeProvisioner{}, Config{})

	spec := testSpec("n1")
	spec.ContainerImage = ""
	_, err := client.Register(context.Background(), spec)
	requireAPIError(t, err, http.StatusBadRequest, lifecycle.ErrorKindInvalid)

	spec = testSpec("n1")
	spec.IdleTimeout = "soon"
	_, err = client.Register(context.Background(), spec)
	requireAPIError(t, err, http.StatusBadRequest, lifecycle.ErrorKindInvalid)
}

func TestRegisterRejectsUnknownFields(t *testing.T) {
	_, client := newTestServer(t, &fakeProvisioner{}, Config{})

	resp, err := http.Post(client.base.String()+"/v1/nodes", "application/json", strings.NewReader(`{"id":"n1","gpus":2}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterPersists(t *testing.T) {
	var mu sync.Mutex
	var persisted []string
	failing := errors.New("etcd unavailable")

	manager, client := newTestServer(t, &fakeProvisioner{}, Config{
		Persist: func(_ context.Context, config lifecycle.NodeConfig) error {
			if config.ID == "broken" {
				return failing
			}
			mu.Lock()
			defer mu.Unlock()
			persisted = append(persisted, config.ID)
			return nil
		},
	})
	ctx := context.Background()

	_, err := client.Register(ctx, testSpec("n1"))
	require.NoError(t, err)

	_, err = client.Register(ctx, testSpec("broken"))
	requireAPIError(t, err, http.StatusInternalServerError, lifecycle.ErrorKindInternal)

	_, err = manager.Node("broken")
	assert.ErrorIs(t, err, lifecycle.ErrUnknownNode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"n1"}, persisted)
}

func TestUnknownNode(t *testing.T) {
	_, client := newTestServer(t, &fakeProvisioner{}, Config{})
	ctx := context.Background()

	_, err := client.Get(ctx, "nope")
	requireAPIError(t, err, http.StatusNotFound, lifecycle.ErrorKindUnknownNode)
	assert.ErrorIs(t, err, lifecycle.ErrUnknownNode)

	_, err = client.Provision(ctx, "nope")
	requireAPIError(t, err, http.StatusNotFound, lifecycle.ErrorKindUnknownNode)

	err = client.Terminate(ctx, "nope")
	requireAPIError(t, err, http.StatusNotFound, lifecycle.ErrorKindUnknownNode)
}

func TestProvisionAndTerminate(t *testing.T) {
	_, client := newTestServer(t, &fakeProvisioner{}, Config{})
	ctx := context.Background()

	_, err := client.Register(ctx, testSpec("n1"))
	require.NoError(t, err)

	endpoint, err := client.Provision(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "http://n1.test", endpoint.Address)

	node, err := client.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.NodeStatusReady, node.Status)
	assert.True(t, node.Reachable)
	assert.Zero(t, node.TimeToReady)
	assert.NotNil(t, node.LastActivity)

	require.NoError(t, client.Terminate(ctx, "n1"))

	node, err = client.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.NodeStatusCold, node.Status)
	assert.False(t, node.Reachable)
}

func TestProvisionFailure(t *testing.T) {
	_, client := newTestServer(t, &fakeProvisioner{err: errors.New("no capacity")}, Config{})
	ctx := context.Background()

	_, err := client.Register(ctx, testSpec("n1"))
	require.NoError(t, err)

	_, err = client.Provision(ctx, "n1")
	requireAPIError(t, err, http.StatusBadGateway, lifecycle.ErrorKindProvisioning)
	assert.ErrorIs(t, err, lifecycle.ErrProvisioningFailed)
	assert.Contains(t, err.Error(), "no capacity")

	node, err := client.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.NodeStatusError, node.Status)
	assert.Equal(t, "no capacity", node.Error)
}

func TestMetrics(t *testing.T) {
	_, client := newTestServer(t, &fakeProvisioner{}, Config{})

	_, err := client.Register(context.Background(), testSpec("n1"))
	require.NoError(t, err)

	resp, err := http.Get(client.base.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "standby_nodes")
}

func TestNewClientAddress(t *testing.T) {
	client, err := NewClient("localhost:25380", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:25380", client.base.String())

	client, err = NewClient("https://standby.example.com/", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://standby.example.com", client.base.String())
}
