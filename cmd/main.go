package main

import (
	"chat-relay/infrastructure/rest"
	"chat-relay/infrastructure/ws"
	"chat-relay/internal"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until a signal arrives.
// Returning instead of exiting lets the deferred cleanups run.
func run() error {
	// 1. Configuration & Logger
	config, err := internal.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Message store (in-memory badger)
	db, err := repositories.OpenInMemory()
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	store := repositories.NewMessageStore(db, log)
	defer func() {
		log.Info("Closing message store...")
		_ = store.Close()
	}()

	// 3. Core
	monitoring := observability.NewMonitoringManager(log)
	registry := runtime.NewRegistry(log)
	orchestrator := runtime.NewOrchestrator(log, registry, store, monitoring)
	chatService := services.NewChatService(log, registry, store, orchestrator)

	// 4. Transport
	app := rest.NewApp()
	app.Use(recover.New())
	app.Use(cors.New())
	ws.NewServer(log, registry, orchestrator, monitoring, ws.Options{
		ConnectionBufferSize: config.ConnectionBufferSize,
		MaxMessageSize:       config.MaxMessageSize,
		PongWait:             config.PongWait,
		PingPeriod:           config.PingPeriod,
		WriteWait:            config.WriteWait,
	}).Mount(app)
	rest.NewHandlers(log, chatService, monitoring).Mount(app)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Supervised workers, Run blocks until ctx is canceled
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		workers.NewHTTPServerWorker(log, app, config.Address(), config.ShutdownTimeout),
		workers.NewHeartbeatWorker(log, monitoring, registry, store, config.HeartbeatInterval),
	).Run(ctx)

	log.Info("Program stopped cleanly")
	return nil
}
