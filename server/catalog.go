package main

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/gammadia/standby/catalog"
	"github.com/gammadia/standby/lifecycle"
	"github.com/gammadia/standby/server/flags"
	"github.com/gammadia/standby/server/log"
	"github.com/spf13/viper"
)

// registry is the part of the manager the catalog keeps in sync.
type registry interface {
	Node(id string) (lifecycle.Node, error)
	Register(config lifecycle.NodeConfig) (lifecycle.Node, error)
	Unregister(ctx context.Context, id string) error
}

// persistNode stores nodes registered through the admin API, once etcd is configured
var persistNode func(ctx context.Context, config lifecycle.NodeConfig) error

func loadCatalog() error {
	if path := viper.GetString(flags.CatalogFile); path != "" {
		configs, err := catalog.LoadFile(path)
		if err != nil {
			return err
		}
		for _, config := range configs {
			if _, err := manager.Register(config); err != nil {
				return fmt.Errorf("failed to register node '%s' from '%s': %w", config.ID, path, err)
			}
		}
		log.Info("Catalog file loaded", "path", path, "nodes", len(configs))
	}

	endpoints := viper.GetStringSlice(flags.EtcdEndpoints)
	if len(endpoints) == 0 {
		return nil
	}

	client, err := catalog.Dial(endpoints)
	if err != nil {
		return err
	}
	store := catalog.NewEtcd(client, viper.GetString(flags.EtcdPrefix), log.Component("catalog"))

	loadCtx, cancelLoad := context.WithTimeout(ctx, 30*time.Second)
	defer cancelLoad()

	configs, revision, err := store.Load(loadCtx)
	if err != nil {
		_ = client.Close()
		return err
	}
	for _, config := range configs {
		applyChange(ctx, manager, catalog.Change{Type: catalog.ChangePut, ID: config.ID, Config: config})
	}
	log.Info("Etcd catalog loaded", "endpoints", endpoints, "nodes", len(configs), "revision", revision)

	persistNode = store.Put

	go func() {
		defer client.Close()
		syncCatalog(ctx, manager, store.Watch(ctx, revision))
	}()
	return nil
}

// syncCatalog applies catalog changes until the channel is closed.
func syncCatalog(ctx context.Context, r registry, changes <-chan catalog.Change) {
	for change := range changes {
		applyChange(ctx, r, change)
	}
	log.Debug("Catalog watch stopped")
}

// applyChange makes the registry reflect one catalog change. A node whose
// declaration changed is unregistered, which terminates it, then registered again.
func applyChange(ctx context.Context, r registry, change catalog.Change) {
	switch change.Type {
	case catalog.ChangePut:
		if node, err := r.Node(change.ID); err == nil {
			if reflect.DeepEqual(node.Config, change.Config) {
				return
			}
			log.Info("Node declaration changed, replacing node", "node", change.ID)
			if err := r.Unregister(ctx, change.ID); err != nil && !errors.Is(err, lifecycle.ErrUnknownNode) {
				log.Error("Failed to unregister node", "node", change.ID, "error", err)
				return
			}
		}
		if _, err := r.Register(change.Config); err != nil {
			log.Error("Failed to register node", "node", change.ID, "error", err)
		}

	case catalog.ChangeDelete:
		if err := r.Unregister(ctx, change.ID); err != nil && !errors.Is(err, lifecycle.ErrUnknownNode) {
			log.Error("Failed to unregister node", "node", change.ID, "error", err)
		}
	}
}
