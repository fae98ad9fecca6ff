package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"studyboard-backend/internal/api"
	"studyboard-backend/internal/api/routes"
	v1 "studyboard-backend/internal/api/routes/v1"
	"studyboard-backend/internal/config"
	"studyboard-backend/internal/libraries"
	"studyboard-backend/internal/repo"
	"studyboard-backend/internal/whiteboard"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration:", err)
	}
	ctx := context.Background()

	var (
		boards    repo.BoardRepoInterface
		elements  repo.BoardElementRepoInterface
		snapshots []repo.DocSnapshotRepoInterface
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		store := repo.NewMemoryStore()
		boards, elements = store, store
		snapshots = append(snapshots, store)
		log.Println("⚠️  Using the in-memory store, nothing survives a restart")
	default:
		// Connect to database
		if err := config.ConnectDB(cfg.DBURL); err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		defer config.CloseDB()

		// Run migrations
		if err := config.MigrateAllModels(cfg.RunMigrations); err != nil {
			log.Fatal("Failed to migrate database:", err)
		}
		boards = repo.NewBoardRepository(config.DB)
		elements = repo.NewBoardElementRepository(config.DB)
		snapshots = append(snapshots, repo.NewDocSnapshotRepository(config.DB))
	}

	if cfg.GCSBucket != "" {
		clients, err := libraries.NewClients(ctx, cfg.GCPCredentials, cfg.GCPProjectID)
		if err != nil {
			log.Fatalf("failed to init gcp clients: %v", err)
		}
		defer clients.Close()
		// the bucket is read first on room open and receives every flush
		snapshots = append([]repo.DocSnapshotRepoInterface{
			libraries.NewGCSSnapshotStore(clients.GCS, cfg.GCSBucket, cfg.GCSPrefix),
		}, snapshots...)
		log.Printf("✅ Snapshots mirrored to gs://%s/%s", cfg.GCSBucket, cfg.GCSPrefix)
	}

	hub := libraries.NewHub()
	go hub.Run()
	defer hub.Stop()

	var bus whiteboard.Broadcaster = hub
	if cfg.RedisAddr != "" {
		rdb, err := libraries.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("Failed to connect to redis:", err)
		}
		redisBus := libraries.NewRedisBus(ctx, rdb, hub)
		defer redisBus.Close()
		bus = redisBus
	}

	elementService := whiteboard.NewElementService(boards, elements)
	rooms := whiteboard.NewRooms(boards, elementService, whiteboard.NewPresence(), bus)
	relay := whiteboard.NewDocRelay(whiteboard.RelayConfig{
		Debounce:     cfg.SnapshotDebounce,
		MaxWait:      cfg.SnapshotMaxWait,
		FlushTimeout: whiteboard.DefaultRelayConfig().FlushTimeout,
	}, snapshots...)

	// Create and configure Fiber app
	app := api.NewServer(cfg.CORSOrigins)

	// Register routes
	routes.Register(app, &v1.Services{
		Boards:     boards,
		Elements:   elementService,
		Rooms:      rooms,
		Relay:      relay,
		Hub:        hub,
		Tokens:     libraries.NewTokenService(cfg.JWTSecret),
		CursorRate: cfg.CursorRate,
		DevTokens:  cfg.DevTokens,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("shutting down")
		if err := app.Shutdown(); err != nil {
			log.Println("shutdown error:", err)
		}
	}()

	// Start server
	if err := api.StartServer(app, cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
