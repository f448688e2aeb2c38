package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gammadia/standby/lifecycle"
	"github.com/gammadia/standby/provisioner/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvisioner(t *testing.T, server *httptest.Server, apiKey string) *Provisioner {
	t.Helper()

	p, err := NewProvisioner(Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Endpoint: server.URL + "/",
		APIKey:   apiKey,
	})
	require.NoError(t, err)
	p.policy.Backoff = func(int) time.Duration { return time.Millisecond }
	return p
}

func testNode() lifecycle.NodeConfig {
	return lifecycle.NodeConfig{
		ID:             "gpu-1",
		HardwareType:   lifecycle.HardwareTypeGPU,
		GPUType:        "A100",
		GPUMemoryGB:    80,
		CPUCores:       16,
		MemoryGB:       128,
		ContainerImage: "inference:v2",
		Env:            map[string]string{"MODEL": "large"},
		Priority:       5,
	}
}

func TestProvisionSendsNodeDescription(t *testing.T) {
	var received map[string]any
	var headers http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/compute/provision", r.URL.Path)
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"endpoint":"https://gpu-1.nodes.test","internalEndpoint":"http://10.0.0.7:8080","providerMeta":{"region":"eu-west"}}`)
	}))
	defer server.Close()

	p := newTestProvisioner(t, server, "secret")
	allocation, err := p.Provision(context.Background(), testNode())
	require.NoError(t, err)

	assert.Equal(t, "https://gpu-1.nodes.test", allocation.Address)
	assert.Equal(t, "http://10.0.0.7:8080", allocation.Internal)
	assert.Equal(t, "eu-west", allocation.ProviderMeta["region"])

	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	assert.NotEmpty(t, headers.Get("X-Request-Id"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))

	assert.Equal(t, "gpu-1", received["nodeId"])
	assert.Equal(t, "inference:v2", received["containerImage"])
	assert.Equal(t, "gpu", received["hardwareType"])
	assert.Equal(t, "none", received["teeType"])
	assert.Equal(t, "A100", received["gpuType"])
	assert.Equal(t, float64(80), received["gpuMemoryGb"])
	assert.Equal(t, float64(16), received["cpuCores"])
	assert.Equal(t, float64(5), received["priority"])
	assert.Equal(t, map[string]any{"MODEL": "large"}, received["env"])
	assert.NotContains(t, received, "startupCommand")
}

func TestProvisionWithoutAPIKeySendsNoAuthorization(t *testing.T) {
	var authorization atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization.Store(r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"endpoint":"http://n.test"}`)
	}))
	defer server.Close()

	p := newTestProvisioner(t, server, "")
	_, err := p.Provision(context.Background(), testNode())
	require.NoError(t, err)
	assert.Equal(t, "", authorization.Load())
}

func TestProvisionRetriesUnavailableServiceWithSameRequestID(t *testing.T) {
	var mu sync.Mutex
	var requestIDs []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requestIDs = append(requestIDs, r.Header.Get("X-Request-Id"))
		attempt := len(requestIDs)
		mu.Unlock()

		if attempt < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"endpoint":"http://n.test"}`)
	}))
	defer server.Close()

	p := newTestProvisioner(t, server, "")
	allocation, err := p.Provision(context.Background(), testNode())
	require.NoError(t, err)
	assert.Equal(t, "http://n.test", allocation.Address)

	require.Len(t, requestIDs, 3)
	assert.Equal(t, requestIDs[0], requestIDs[1])
	assert.Equal(t, requestIDs[0], requestIDs[2])
}

func TestProvisionRejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such image", http.StatusBadRequest)
	}))
	defer server.Close()

	p := newTestProvisioner(t, server, "")
	_, err := p.Provision(context.Background(), testNode())
	require.Error(t, err)
	assert.ErrorContains(t, err, "no such image")
	assert.ErrorContains(t, err, "gpu-1")

	var statusErr *internal.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProvisionGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := newTestProvisioner(t, server, "")
	_, err := p.Provision(context.Background(), testNode())
	require.Error(t, err)
	assert.Equal(t, int32(DefaultMaxAttempts), calls.Load())
}

func TestTerminate(t *testing.T) {
	var received terminateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/compute/terminate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	p := newTestProvisioner(t, server, "")
	require.NoError(t, p.Terminate(context.Background(), "gpu-1"))
	assert.Equal(t, "gpu-1", received.NodeID)
}

func TestInvalidEndpoint(t *testing.T) {
	_, err := NewProvisioner(Config{Endpoint: "ftp://provisioner.test"})
	assert.Error(t, err)
}
