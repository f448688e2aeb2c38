package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gammadia/standby/server/api"
	"github.com/gammadia/standby/server/flags"
	"github.com/gammadia/standby/server/log"
	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

// Cancelled by the signal handler, every long-running goroutine watches it to start shutting down
var ctx, cancel = context.WithCancel(context.Background())

// wg tracks the manager and the admin API server, main exits once both are done
var wg sync.WaitGroup

func main() {
	if err := flags.Init(os.Args[0], os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			lo.Must(fmt.Fprintln(os.Stderr, err))
		}
		os.Exit(1)
	}

	// Setup logger first as this will be used to report progress of the rest of the setup
	if err := log.Init(); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, err))
		os.Exit(1)
	}
	log.Info("Standby server starting up...", "version", version, "commit", commit)

	lis, err := net.Listen("tcp", viper.GetString(flags.Listen))
	if err != nil {
		log.Error("Failed to listen", "error", err)
		os.Exit(1)
	}

	setupInterrupts()

	if err = createManager(); err != nil {
		log.Error("Failed to create manager", "error", err)
		os.Exit(1)
	}

	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()
	go listenEvents(events)

	if err = loadCatalog(); err != nil {
		log.Error("Failed to load node catalog", "error", err)
		os.Exit(1)
	}

	// Manager goroutine: on shutdown, terminates every node before releasing the provisioner
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), viper.GetDuration(flags.ShutdownTimeout))
		defer cancelShutdown()

		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Error("Manager did not shut down cleanly", "error", err)
		}
		if err := closeProvisioner(); err != nil {
			log.Error("Failed to release provisioner", "error", err)
		}
	}()

	httpServer := &http.Server{
		Handler: api.NewHandler(manager, api.Config{
			Logger:  log.Component("api"),
			Version: version,
			Commit:  commit,
			Persist: persistNode,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Admin API goroutine: stops accepting connections on shutdown and waits for in-flight calls
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			<-ctx.Done()
			if err := httpServer.Shutdown(context.Background()); err != nil {
				log.Warn("Failed to shut down admin API", "error", err)
			}
		}()

		log.Info("Server listening", "address", lis.Addr())
		if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failed to serve", "error", err)
			os.Exit(1)
		}
	}()

	wg.Wait()
	log.Info("Shutdown completed. Bye!")
}

// setupInterrupts handles SIGINT and SIGTERM with a double-tap pattern:
// the first signal starts a graceful shutdown, the second one forces exit.
func setupInterrupts() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		log.Info("Shutdown signal received, attempting graceful shutdown")
		cancel()
		<-sig
		log.Warn("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()
}
