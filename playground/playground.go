package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gammadia/standby/lifecycle"
	"github.com/gammadia/standby/provisioner/local"
	"github.com/gammadia/standby/provisioner/openstack"
	"github.com/gammadia/standby/provisioner/remote"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
)

// A manual end-to-end run: a burst of requests against a cold node, then
// idle eviction. Interrupt once to shut down, twice to exit right away.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var provisionerID = os.Getenv("PROVISIONER")
	var provisioner lifecycle.Provisioner
	var err error

	switch provisionerID {
	case "local":
		provisioner, err = local.NewProvisioner(local.Config{Logger: logger})
	case "openstack":
		provisioner, err = openstack.NewProvisioner(openstack.Config{
			Logger: logger,
			Image:  os.Getenv("OS_IMAGE"),
			Flavor: os.Getenv("OS_FLAVOR"),
			Networks: []servers.Network{
				{UUID: os.Getenv("OS_NETWORK")},
			},
			SecurityGroups: []string{"standby-node"},
			SSHUsername:    "debian",
			DockerHost:     "tcp://127.0.0.1:2375",
		})
	case "remote":
		provisioner, err = remote.NewProvisioner(remote.Config{
			Logger:   logger,
			Endpoint: os.Getenv("PROVISIONER_ENDPOINT"),
			APIKey:   os.Getenv("PROVISIONER_API_KEY"),
		})
	default:
		provisioner, err = nil, fmt.Errorf("unknown provisioner '%s'", provisionerID)
	}
	if err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, fmt.Errorf("unable to create provisioner '%s': %w", provisionerID, err)))
		os.Exit(1)
	}

	manager := lifecycle.New(provisioner, lifecycle.Config{
		Logger:       logger,
		IdleTimeout:  30 * time.Second,
		MaxQueueWait: 5 * time.Minute,
		PollInterval: 5 * time.Second,
	})

	lo.Must(manager.Register(lifecycle.NodeConfig{
		ID:             "playground",
		HardwareType:   lifecycle.HardwareTypeCPU,
		CPUCores:       1,
		MemoryGB:       1,
		ContainerImage: "python:3-alpine",
		StartupCommand: "python -m http.server 8080",
		ColdStart:      20 * time.Second,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	go func() {
		<-sig
		cancel()
		<-sig
		os.Exit(1)
	}()

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := time.Now()
			status, err := manager.Execute(ctx, "playground", "/", get)
			fmt.Printf("request %d: %v %v (after %s)\n", i, status, err, time.Since(started).Truncate(time.Millisecond))
		}()
	}
	wg.Wait()

	// Leave the node alone long enough to be evicted
	for ctx.Err() == nil {
		metadata := lo.Must(manager.Metadata("playground"))
		fmt.Printf("node is %s, ready in %s\n", metadata.Status, metadata.TimeToReady)
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), time.Minute)
	defer cancelShutdown()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, err))
	}
	if closer, ok := provisioner.(io.Closer); ok {
		_ = closer.Close()
	}
}

func get(ctx context.Context, endpoint lifecycle.Endpoint, payload any) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.Address+payload.(string), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return resp.Status, nil
}
