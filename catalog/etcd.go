package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gammadia/standby/lifecycle"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// KV is the part of the etcd client the catalog relies on.
type KV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan
}

// *clientv3.Client implements KV
var _ KV = (*clientv3.Client)(nil)

func Dial(endpoints []string) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return client, nil
}

// Etcd keeps node specs as JSON under <prefix><id>.
type Etcd struct {
	kv     KV
	prefix string
	log    *slog.Logger
}

func NewEtcd(kv KV, prefix string, logger *slog.Logger) *Etcd {
	return &Etcd{
		kv:     kv,
		prefix: prefix,
		log:    logger.With("prefix", prefix),
	}
}

func (e *Etcd) key(id string) string {
	return e.prefix + id
}

// Load returns every valid node under the prefix, and the revision to resume watching from.
// Invalid entries are logged and skipped so that one bad key cannot block the others.
func (e *Etcd) Load(ctx context.Context) ([]lifecycle.NodeConfig, int64, error) {
	resp, err := e.kv.Get(ctx, e.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list nodes from etcd: %w", err)
	}

	configs := make([]lifecycle.NodeConfig, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		config, err := e.decode(kv.Key, kv.Value)
		if err != nil {
			e.log.Warn("Skipping invalid node", "key", string(kv.Key), "error", err)
			continue
		}
		configs = append(configs, config)
	}
	return configs, resp.Header.GetRevision(), nil
}

func (e *Etcd) decode(key, value []byte) (lifecycle.NodeConfig, error) {
	var spec NodeSpec
	if err := json.Unmarshal(value, &spec); err != nil {
		return lifecycle.NodeConfig{}, fmt.Errorf("failed to decode node spec: %w", err)
	}

	id := strings.TrimPrefix(string(key), e.prefix)
	if spec.ID == "" {
		spec.ID = id
	} else if spec.ID != id {
		return lifecycle.NodeConfig{}, fmt.Errorf("%w: key is for node '%s' but spec is for '%s'", lifecycle.ErrInvalidConfig, id, spec.ID)
	}
	return spec.NodeConfig()
}

func (e *Etcd) Put(ctx context.Context, config lifecycle.NodeConfig) error {
	value, err := json.Marshal(SpecOf(config))
	if err != nil {
		return fmt.Errorf("failed to encode node spec: %w", err)
	}
	if _, err := e.kv.Put(ctx, e.key(config.ID), string(value)); err != nil {
		return fmt.Errorf("failed to store node '%s' in etcd: %w", config.ID, err)
	}
	return nil
}

func (e *Etcd) Delete(ctx context.Context, id string) error {
	if _, err := e.kv.Delete(ctx, e.key(id)); err != nil {
		return fmt.Errorf("failed to delete node '%s' from etcd: %w", id, err)
	}
	return nil
}

type ChangeType int

const (
	ChangePut ChangeType = iota
	ChangeDelete
)

// Change is one update of the catalog observed through Watch.
type Change struct {
	Type   ChangeType
	ID     string
	Config lifecycle.NodeConfig
}

// Watch turns etcd watch events after revision into catalog changes. The
// channel is closed when ctx is done or the watch is cancelled by etcd.
func (e *Etcd) Watch(ctx context.Context, revision int64) <-chan Change {
	changes := make(chan Change)

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if revision > 0 {
		opts = append(opts, clientv3.WithRev(revision+1))
	}

	go func() {
		defer close(changes)

		for resp := range e.kv.Watch(ctx, e.prefix, opts...) {
			if err := resp.Err(); err != nil {
				e.log.Error("Catalog watch failed", "error", err)
				if resp.Canceled {
					return
				}
				continue
			}

			for _, ev := range resp.Events {
				change := Change{ID: strings.TrimPrefix(string(ev.Kv.Key), e.prefix)}

				switch ev.Type {
				case clientv3.EventTypePut:
					config, err := e.decode(ev.Kv.Key, ev.Kv.Value)
					if err != nil {
						e.log.Warn("Ignoring invalid node update", "node", change.ID, "error", err)
						continue
					}
					change.Type, change.Config = ChangePut, config
				case clientv3.EventTypeDelete:
					change.Type = ChangeDelete
				default:
					continue
				}

				select {
				case changes <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return changes
}
