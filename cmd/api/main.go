package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"classbeacon/internal/attendance"
	"classbeacon/internal/attendance/migrations"
	"classbeacon/internal/auth"
	"classbeacon/internal/checkin"
	"classbeacon/internal/cloudinary"
	"classbeacon/internal/config"
	"classbeacon/internal/handler"
	"classbeacon/internal/httpmiddleware"
	"classbeacon/internal/store"
	"classbeacon/internal/window"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg)
	slog.SetDefault(log)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.ApplyMigrations(ctx, migrations.FS, "."); err != nil {
		return err
	}
	log.Info("database ready", "dialect", db.Dialect.String())

	checks := map[string]handler.HealthCheck{"db": db.Healthy}

	var slot window.Slot
	if strings.EqualFold(cfg.WindowBackend, "memory") {
		slot = window.NewMemorySlot()
		log.Warn("window backend is in-process memory; other instances will not see it")
	} else {
		rdb := store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		slot = window.NewRedisSlot(rdb.Client, "", "")
		checks["redis"] = rdb.Healthy
	}
	win := window.New(slot, window.WithMaxMinutes(cfg.WindowMaxMinutes), window.WithLogger(log))

	var captures checkin.CaptureStore
	if cfg.CloudinaryConfigured() {
		captures = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info("cloudinary configured", "cloud", cfg.CloudinaryCloudName)
	} else {
		log.Info("cloudinary not configured, captures stay inline")
	}

	att := attendance.NewService(attendance.NewRepository(db))
	sessions := checkin.NewService(att, win, checkin.NewFrameSource(captures, 0), cfg.SessionTTL, log)
	go sessions.Run(ctx, time.Minute)

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, nil)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Sweep()
			}
		}
	}()

	h := handler.New(handler.Deps{
		Attendance:   att,
		Window:       win,
		Sessions:     sessions,
		Issuer:       auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL),
		Logger:       log,
		PollInterval: cfg.WindowPollInterval,
		Checks:       checks,
	})

	// WriteTimeout stays zero so window streams are not cut off.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h.Router(limiter),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", "error", err)
	}
	log.Info("server exited")
	return nil
}
