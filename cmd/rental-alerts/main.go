package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/rental-alerts/internal/alerting"
	"github.com/mr1hm/rental-alerts/internal/api"
	"github.com/mr1hm/rental-alerts/internal/config"
	internalgrpc "github.com/mr1hm/rental-alerts/internal/grpc"
	"github.com/mr1hm/rental-alerts/internal/lock"
	"github.com/mr1hm/rental-alerts/internal/logging"
	"github.com/mr1hm/rental-alerts/internal/metrics"
	"github.com/mr1hm/rental-alerts/internal/notify"
	"github.com/mr1hm/rental-alerts/internal/repository"
	"github.com/mr1hm/rental-alerts/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.Open(cfg.DataSource())
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var locker alerting.Locker
	if cfg.Redis.URL != "" {
		rl, err := lock.NewRedisLocker(cfg.Redis.URL)
		if err != nil {
			logging.Fatalf("Failed to configure run lock: %v", err)
		}
		defer rl.Close()
		if err := rl.Ping(ctx); err != nil {
			slog.Warn("redis unreachable, passes will run without the shared lock", "error", err)
		}
		locker = rl
	}

	m := metrics.New()
	broadcaster := notify.NewBroadcaster()

	engine := alerting.NewEngine(alerting.EngineConfig{
		Store: db,
		Sources: alerting.Sources{
			Rentals:  db,
			Payments: db,
			Vehicles: db,
			Quotes:   db,
			Leads:    db,
		},
		Publisher: broadcaster,
		Metrics:   m,
		Workers:   cfg.Checks.Workers,
		Locker:    locker,
		LockTTL:   cfg.Redis.LockTTL,
	})

	grpcServer := internalgrpc.NewServer()
	go func() {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	sched := scheduler.New(engine, scheduler.Config{
		CheckInterval:   cfg.Checks.Interval,
		CleanupInterval: cfg.Checks.CleanupInterval,
		RunOnStart:      cfg.Checks.RunOnStart,
	}, grpcServer.Observe)
	sched.Start(ctx)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimitRPS))

	handler := api.NewHandler(db, engine, broadcaster, m.Handler())
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	sched.Stop()
	broadcaster.Close() // ends open SSE streams
	grpcServer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
