package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coderoom/internal/api"
	"coderoom/internal/config"
	"coderoom/internal/db"
	"coderoom/internal/logging"
	"coderoom/internal/presence"
	"coderoom/internal/repository"
	"coderoom/internal/services/collaboration"
	"coderoom/internal/telemetry"
)

/*
Startup order: config, logging, tracing, database, presence, then the
collaboration engine and HTTP surface. Shutdown runs in reverse: stop
accepting requests, close sessions, stop the relay, flush traces, close
the database.
*/

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Component("main").WithError(err).Fatal("failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component("main")

	log.Info("starting coderoom")

	jaegerShutdown, err := telemetry.InitJaeger(telemetry.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		log.WithError(err).Warn("failed to initialize Jaeger, continuing without tracing")
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.WithError(err).Warn("failed to shutdown Jaeger")
		}
	}()

	database, err := db.NewGorm(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close()

	files := repository.NewFileRepository(database.DB)
	rooms := repository.NewRoomRepository(database.DB)
	users := repository.NewUserRepository(database.DB)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	gateway := collaboration.NewGateway()

	var registry presence.Registry
	if cfg.RedisURL != "" {
		redisRegistry, err := presence.NewRedisRegistry(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		defer redisRegistry.Close()
		registry = redisRegistry

		relay := collaboration.NewRedisRelay(redisRegistry.Client())
		gateway.SetRelay(relay)
		go func() {
			if err := relay.Run(relayCtx, gateway, nil); err != nil {
				log.WithError(err).Error("relay stopped")
			}
		}()
		log.Info("presence and fan-out shared through redis")
	} else {
		registry = presence.NewMemoryRegistry()
		log.Info("presence kept in memory, single instance mode")
	}

	engine := collaboration.NewSyncEngine(files, users, collaboration.NewSnapshotPolicy(cfg.SnapshotDebounce))
	ledger := collaboration.NewLedger(files, users)
	coordinator := collaboration.NewCoordinator(registry, gateway, engine, ledger, files, rooms)

	sessionManager := collaboration.NewSessionManager(coordinator, cfg.SendBuffer)
	sessionManager.Start()

	wsHandler := collaboration.NewWebSocketHandler(sessionManager)

	handler := api.NewHandler(engine, files, rooms, users, registry, coordinator, wsHandler)
	router := api.SetupRoutes(handler)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr()).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("server forced to shutdown")
	}

	// Hijacked websocket conns are not covered by server.Shutdown
	sessionManager.Shutdown()
	stopRelay()

	log.Info("shutdown complete")
}
