package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/tahcohcat/fishtrip-achievements/config"
	"github.com/tahcohcat/fishtrip-achievements/internal/api"
	"github.com/tahcohcat/fishtrip-achievements/internal/auth"
	"github.com/tahcohcat/fishtrip-achievements/internal/database"
	"github.com/tahcohcat/fishtrip-achievements/internal/logger"
	"github.com/tahcohcat/fishtrip-achievements/internal/realtime"
	"github.com/tahcohcat/fishtrip-achievements/internal/services"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		logger.New().WithField("component", "server").WithError(err).Error("Server exited")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Loggers copy the global level when created, so set it before any New().
	logger.SetGlobalLevel(logger.ParseLevel(cfg.Log.Level))
	log := logger.New().WithField("component", "server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	defaults, err := services.NewCatalog(services.DefaultAchievements())
	if err != nil {
		return err
	}
	if err := services.SeedCatalog(ctx, db, defaults); err != nil {
		return err
	}
	catalog, err := services.LoadCatalog(ctx, db)
	if err != nil {
		return err
	}
	log.WithField("achievements", len(catalog.Types())).Info("Achievement catalog loaded")

	registry := realtime.NewRegistry(realtime.Options{
		HeartbeatTimeout: cfg.Stream.HeartbeatTimeout,
		SweepInterval:    cfg.Stream.SweepInterval,
	})
	registry.Start(ctx)
	defer registry.Stop()

	var fanout services.Broadcaster = registry
	var relay *realtime.Relay
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		relay = realtime.NewRelay(rdb, cfg.Redis.Channel, registry)
		fanout = relay
		log.WithField("address", cfg.Redis.Address).Info("Redis relay enabled")
	}

	tasks := services.NewTaskRunner(cfg.Achievements.TaskQueueSize)
	tasks.Start(ctx)
	defer tasks.Stop()

	users := services.NewUserService(db)
	ledger := services.NewExperienceLedger(db)
	achievements := services.NewAchievementService(services.AchievementDeps{
		DB:          db,
		Catalog:     catalog,
		Store:       services.NewSQLProgressStore(db),
		Ledger:      ledger,
		Users:       users,
		Broadcaster: fanout,
		Notifier:    services.NewLogNotifier(),
		Tasks:       tasks,
		Retries:     cfg.Achievements.ConflictRetries,
	})

	handler := api.NewHandler(api.Deps{
		Achievements: achievements,
		Users:        users,
		Ledger:       ledger,
		Fanout:       fanout,
		Streamer: realtime.NewStreamer(registry, realtime.StreamConfig{
			HeartbeatInterval: cfg.Stream.HeartbeatInterval,
			SendBuffer:        cfg.Stream.SendBuffer,
			AllowedOrigins:    cfg.Server.AllowedOrigins,
		}),
		Sessions:      auth.New(cfg.Auth.SessionSecret),
		DB:            db,
		PushTokenHash: cfg.Auth.PushTokenHash,
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           c.Handler(handler.Router()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("address", cfg.Server.Address).WithField("driver", db.Driver).Info("🎣 Achievement server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Streams hold requests open; close them before waiting on Shutdown.
		registry.Stop()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
