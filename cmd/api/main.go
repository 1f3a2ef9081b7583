package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"crashgame/internal/cache"
	"crashgame/internal/config"
	"crashgame/internal/database"
	"crashgame/internal/game"
	"crashgame/internal/logging"
	"crashgame/internal/metrics"
	"crashgame/internal/server"
	"crashgame/internal/store/memory"
)

// backend is what the engine needs from the durable side.
type backend struct {
	store   game.Store
	enabled game.EnabledChecker
	users   game.UserDirectory
	db      database.Service
}

func openBackend(cfg *config.Config) backend {
	if cfg.StoreDriver == config.DRIVER_MEMORY {
		log.Println("[SERVER] Using the in-memory store; balances are lost on exit")
		store := memory.New()
		return backend{store: store, enabled: store, users: store}
	}

	db := database.New()
	if cfg.AutoMigrate {
		if err := database.RunMigrations(db.SQL(), cfg.MigrationsPath); err != nil {
			log.Fatalf("[DB] Migration failed: %v", err)
		}
	}
	pool := db.Pool()
	return backend{
		store:   database.NewStore(pool),
		enabled: database.NewCatalog(pool, cfg.GameName),
		users:   database.NewUsers(pool),
		db:      db,
	}
}

func gracefulShutdown(srv *server.FiberServer, manager *game.Manager, stopHub context.CancelFunc, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Println("[SERVER] Shutting down gracefully, press Ctrl+C again to force")
	stop()

	// The scheduler finishes its in-flight write before the pool closes.
	manager.Stop()
	if err := srv.Shutdown(); err != nil {
		log.Printf("[SERVER] Forced to shutdown with error: %v", err)
	}
	stopHub()

	log.Println("[SERVER] Exiting")
	done <- true
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[SERVER] Invalid configuration: %v", err)
	}
	logFile := logging.Setup(cfg.Log)
	defer logFile.Close()

	be := openBackend(cfg)
	m := metrics.New()

	hub := game.NewHub()
	hub.OnDrop(func() { m.DroppedEvents.Inc(1) })
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	var redisService cache.Service
	enabled := be.enabled
	if svc := cache.New(); svc != nil {
		redisService = svc
		enabled = cache.NewEnabledCache(svc.Client(), be.enabled, cfg.EnabledCacheTTL.Duration)
		go cache.NewRelay(svc.Client(), hub).Run(hubCtx)
	}

	state := game.NewSharedState()
	gateway := game.NewGateway(be.store, state, hub, enabled, be.users, m, cfg.GatewayOptions())
	manager := game.NewManager(be.store, state, hub, cfg.Oracle(), enabled, gateway, m, cfg.Settings())

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := manager.Init(initCtx); err != nil {
		log.Fatalf("[GAME] Cannot read round state: %v", err)
	}
	cancel()
	manager.Start(context.Background())

	srv := server.New(server.Deps{
		DB:      be.db,
		Cache:   redisService,
		Hub:     hub,
		State:   state,
		Gateway: gateway,
		Metrics: m,
	})
	srv.RegisterFiberRoutes()

	done := make(chan bool, 1)
	go gracefulShutdown(srv, manager, stopHub, done)

	if err := srv.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		log.Fatalf("[SERVER] http server error: %v", err)
	}

	<-done
	log.Println("[SERVER] Graceful shutdown complete")
}
