package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callsignal/internal/audit"
	"callsignal/internal/auth"
	"callsignal/internal/calls"
	"callsignal/internal/config"
	"callsignal/internal/events"
	"callsignal/internal/history"
	"callsignal/internal/httpapi"
	"callsignal/internal/media"
	"callsignal/internal/notify"
	"callsignal/pkg/logger"
	"callsignal/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	publisher, err := events.NewRedisPublisher(rdb, cfg.Calls.EventChannel)
	if err != nil {
		log.Error("event publisher init failed", "err", err)
		os.Exit(1)
	}

	notifier, err := notify.NewQueueNotifier(rdb, cfg.Calls.PushQueueKey)
	if err != nil {
		log.Error("notifier init failed", "err", err)
		os.Exit(1)
	}

	var mediaService calls.MediaService
	if cfg.Media.TokenSecret != "" {
		issuer, err := media.NewTokenIssuer(cfg.Media.TokenSecret, cfg.Media.TokenTTL)
		if err != nil {
			log.Error("media issuer init failed", "err", err)
			os.Exit(1)
		}
		mediaService = media.NewService(issuer)
	} else {
		log.Warn("media token secret unset, sessions will carry no join credentials")
	}

	store := calls.NewPostgresStore(db, cfg.Calls.StoreTimeout)
	auditor := audit.NewService(audit.NewPostgresRepo(db))

	manager := calls.NewManager(calls.ManagerDeps{
		Store:    store,
		Events:   publisher,
		Media:    mediaService,
		Notifier: notifier,
		Audit:    auditor,
		Logger:   log,
	})

	sweeper := calls.NewSweeper(store, manager, calls.SweeperConfig{
		Interval:       cfg.Calls.SweepInterval,
		RingTimeout:    cfg.Calls.RingTimeout,
		ConnectTimeout: cfg.Calls.ConnectTimeout,
		Logger:         log,
	})
	go sweeper.Run(rootCtx)

	historyService := history.NewService(history.NewPostgresRepo(db))

	h := httpapi.Handlers{
		Auth:    authManager,
		Calls:   manager,
		History: historyService,
		Sweeper: sweeper,
		Store:   store,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, auth.RequireAccessToken(authManager), h, rdb, cfg.Calls)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
