package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gammadia/standby/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const testCatalog = `
nodes:
  - id: cpu-small
    hardwareType: cpu
    cpuCores: 2
    memoryGb: 4
    containerImage: registry.test/worker:1
    idleTimeout: 5m
    coldStart: 45s
    pricePerHour: 0.12
    regions: [eu-west, eu-central]
  - id: gpu-large
    name: A100 inference
    hardwareType: gpu
    teeType: nvidia-cc
    gpuType: A100
    gpuMemoryGb: 80
    cpuCores: 16
    memoryGb: 128
    containerImage: registry.test/inference:2
    startupCommand: serve --port 8080
    env:
      MODEL: large
    priority: 3
`

func TestDecode(t *testing.T) {
	configs, err := Decode(strings.NewReader(testCatalog))
	require.NoError(t, err)
	require.Len(t, configs, 2)

	small := configs[0]
	assert.Equal(t, "cpu-small", small.ID)
	assert.Equal(t, lifecycle.HardwareTypeCPU, small.HardwareType)
	assert.Equal(t, 5*time.Minute, small.IdleTimeout)
	assert.Equal(t, 45*time.Second, small.ColdStart)
	assert.Equal(t, []string{"eu-west", "eu-central"}, small.Regions)

	large := configs[1]
	assert.Equal(t, lifecycle.TEETypeNvidiaCC, large.TEEType)
	assert.Equal(t, "A100", large.GPUType)
	assert.Equal(t, "serve --port 8080", large.StartupCommand)
	assert.Equal(t, map[string]string{"MODEL": "large"}, large.Env)
	assert.Equal(t, time.Duration(0), large.IdleTimeout)
	assert.Equal(t, 3, large.Priority)
}

func TestDecodeEmpty(t *testing.T) {
	configs, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		catalog string
		err     string
	}{
		{
			name:    "unknown field",
			catalog: "nodes:\n  - id: a\n    gpus: 2\n",
			err:     "field gpus not found",
		},
		{
			name:    "bad duration",
			catalog: "nodes:\n  - id: a\n    hardwareType: cpu\n    containerImage: x\n    coldStart: soon\n",
			err:     "invalid coldStart 'soon'",
		},
		{
			name:    "gpu without type",
			catalog: "nodes:\n  - id: a\n    hardwareType: gpu\n    containerImage: x\n",
			err:     "no gpu type",
		},
		{
			name:    "duplicate id",
			catalog: "nodes:\n  - {id: a, hardwareType: cpu, containerImage: x}\n  - {id: a, hardwareType: cpu, containerImage: y}\n",
			err:     "declared twice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.catalog))
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o644))

	configs, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, configs, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSpecRoundTrip(t *testing.T) {
	configs, err := Decode(strings.NewReader(testCatalog))
	require.NoError(t, err)

	for _, config := range configs {
		back, err := SpecOf(config).NodeConfig()
		require.NoError(t, err)
		assert.Equal(t, config, back)
	}
}

// --- Fake etcd ---

type fakeKV struct {
	mu       sync.Mutex
	data     map[string]string
	revision int64
	watch    chan clientv3.WatchResponse
	watchOps []clientv3.OpOption
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		data:  make(map[string]string),
		watch: make(chan clientv3.WatchResponse, 10),
	}
}

func (f *fakeKV) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	resp := &clientv3.GetResponse{}
	for k, v := range f.data {
		if strings.HasPrefix(k, key) {
			resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(v)})
		}
	}
	return resp, nil
}

func (f *fakeKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = val
	f.revision++
	return &clientv3.PutResponse{}, nil
}

func (f *fakeKV) Delete(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	f.revision++
	return &clientv3.DeleteResponse{}, nil
}

func (f *fakeKV) Watch(ctx context.Context, _ string, opts ...clientv3.OpOption) clientv3.WatchChan {
	f.mu.Lock()
	f.watchOps = opts
	f.mu.Unlock()

	out := make(chan clientv3.WatchResponse)
	go func() {
		defer close(out)
		for {
			select {
			case resp := <-f.watch:
				select {
				case out <- resp:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func testEtcd(kv KV) *Etcd {
	return NewEtcd(kv, "/standby/nodes/", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func waitForChange(t *testing.T, changes <-chan Change) Change {
	t.Helper()
	select {
	case change, ok := <-changes:
		require.True(t, ok, "changes channel closed")
		return change
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for catalog change")
		return Change{}
	}
}

func TestEtcdPutAndLoad(t *testing.T) {
	kv := newFakeKV()
	store := testEtcd(kv)
	ctx := context.Background()

	configs, err := Decode(strings.NewReader(testCatalog))
	require.NoError(t, err)
	for _, config := range configs {
		require.NoError(t, store.Put(ctx, config))
	}
	kv.data["/standby/nodes/broken"] = "{not json"

	loaded, _, err := store.Load(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, configs, loaded)

	require.NoError(t, store.Delete(ctx, "cpu-small"))
	loaded, _, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "gpu-large", loaded[0].ID)
}

func TestEtcdLoadRejectsMismatchedID(t *testing.T) {
	kv := newFakeKV()
	kv.data["/standby/nodes/a"] = `{"id":"b","hardwareType":"cpu","containerImage":"x"}`
	kv.data["/standby/nodes/c"] = `{"hardwareType":"cpu","containerImage":"x"}`

	loaded, _, err := testEtcd(kv).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "c", loaded[0].ID)
}

func TestEtcdWatch(t *testing.T) {
	kv := newFakeKV()
	store := testEtcd(kv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := store.Watch(ctx, 41)

	kv.watch <- clientv3.WatchResponse{Events: []*clientv3.Event{
		{
			Type: clientv3.EventTypePut,
			Kv:   &mvccpb.KeyValue{Key: []byte("/standby/nodes/bad"), Value: []byte(`{"hardwareType":"tpu"}`)},
		},
		{
			Type: clientv3.EventTypePut,
			Kv:   &mvccpb.KeyValue{Key: []byte("/standby/nodes/n1"), Value: []byte(`{"hardwareType":"cpu","containerImage":"worker:1","coldStart":"10s"}`)},
		},
		{
			Type: clientv3.EventTypeDelete,
			Kv:   &mvccpb.KeyValue{Key: []byte("/standby/nodes/n0")},
		},
	}}

	put := waitForChange(t, changes)
	assert.Equal(t, ChangePut, put.Type)
	assert.Equal(t, "n1", put.ID)
	assert.Equal(t, 10*time.Second, put.Config.ColdStart)

	deleted := waitForChange(t, changes)
	assert.Equal(t, ChangeDelete, deleted.Type)
	assert.Equal(t, "n0", deleted.ID)

	kv.mu.Lock()
	assert.Len(t, kv.watchOps, 2)
	kv.mu.Unlock()

	cancel()
	select {
	case _, ok := <-changes:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("changes channel not closed after cancel")
	}
}
