package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/evoacs/acs-server/internal/api"
	"github.com/evoacs/acs-server/internal/command"
	"github.com/evoacs/acs-server/internal/config"
	"github.com/evoacs/acs-server/internal/connreq"
	"github.com/evoacs/acs-server/internal/events"
	"github.com/evoacs/acs-server/internal/session"
	"github.com/evoacs/acs-server/internal/storage"
	"github.com/evoacs/acs-server/internal/validation"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/acs-server.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Connect to database
	store, err := storage.NewPostgresStore(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	log.Info().Msg("Connected to database")

	// Optional NATS connection for event publishing
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Server.Name),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without event publishing")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	publisher := events.NewPublisher(nc)

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build components
	dispatcher := connreq.NewDispatcher(cfg.ConnReq.Timeout)
	sessions := session.NewManager(store, publisher, cfg.Session.Timeout, cfg.Session.SweepInterval)
	queue := command.NewQueue(store, dispatcher, publisher, cfg.Queue.MaxRetries, cfg.Queue.CleanAfter, cfg.Queue.HousekeepingInterval)
	gate := validation.NewGate(store)

	apiServer := api.NewRESTServer(cfg, store, gate, sessions, queue, dispatcher)

	// WaitGroup for services
	var wg sync.WaitGroup

	// Start API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Start session timeout sweep
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Dur("interval", cfg.Session.SweepInterval).Msg("Starting session sweep")
		if err := sessions.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Session sweep stopped")
		}
	}()

	// Start queue housekeeping
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Dur("interval", cfg.Queue.HousekeepingInterval).Msg("Starting queue housekeeping")
		if err := queue.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Queue housekeeping stopped")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context
	cancel()

	// Shutdown API server
	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Wait for all services
	wg.Wait()

	log.Info().Msg("ACS server stopped")
}
