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

	"github.com/dukerupert/licensegate/internal/backup"
	"github.com/dukerupert/licensegate/internal/config"
	"github.com/dukerupert/licensegate/internal/database"
	"github.com/dukerupert/licensegate/internal/email"
	"github.com/dukerupert/licensegate/internal/logging"
	"github.com/dukerupert/licensegate/internal/objectstore"
	"github.com/dukerupert/licensegate/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	s3cfg := objectstore.S3Config{
		Endpoint:  cfg.S3.Endpoint,
		Bucket:    cfg.S3.Bucket,
		Region:    cfg.S3.Region,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
	}
	signer, err := objectstore.New(s3cfg)
	if errors.Is(err, objectstore.ErrNotConfigured) {
		slog.Warn("object storage not configured, downloads will fail")
	} else if err != nil {
		slog.Error("failed to create object store", "error", err)
		os.Exit(1)
	}

	emailClient := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.From)
	if !emailClient.Configured() {
		slog.Warn("postmark not configured, emails will not be sent")
	}
	if cfg.AdminKey == "" {
		slog.Warn("admin key not set, admin endpoints are disabled")
	}
	if cfg.Stripe.WebhookSecret == "" {
		slog.Warn("stripe webhook secret not set, webhook is disabled")
	}

	var backups *backup.Manager
	if cfg.Backup.Enabled {
		if s3cfg.Configured() {
			backups = backup.NewManager(db, objectstore.NewClient(s3cfg), backup.Config{
				Bucket:     cfg.S3.Bucket,
				Prefix:     cfg.Backup.Prefix,
				Passphrase: cfg.Backup.Passphrase,
				Hour:       cfg.Backup.Hour,
				Retention:  cfg.Backup.Retention(),
			}, logger)
		} else {
			slog.Warn("backups enabled but object storage not configured, backups are disabled")
		}
	}

	srv := server.New(db, cfg, server.Deps{Signer: signer, Notifier: emailClient, Backups: backups}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				// Keep expired tokens for a week so late clicks still get the expired page.
				cutoff := time.Now().UTC().Add(-7 * 24 * time.Hour)
				if n, err := srv.TokenStore().DeleteExpired(cleanupCtx, cutoff); err != nil {
					slog.Error("cleanup expired download tokens", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired download tokens", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	if cfg.Reminder.Enabled {
		srv.ReminderScheduler().Start(cleanupCtx)
		slog.Info("trial reminder scheduler started", "hour", cfg.Reminder.Hour, "offset_hours", cfg.Reminder.OffsetHours)
	}

	if backups != nil {
		backups.Start(cleanupCtx)
		slog.Info("backup scheduler started", "hour", cfg.Backup.Hour, "retention_days", cfg.Backup.RetentionDays)
	}

	go func() {
		slog.Info("licensegate starting", "addr", httpServer.Addr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	if cfg.Reminder.Enabled {
		srv.ReminderScheduler().Stop()
	}
	if backups != nil {
		backups.Stop()
	}
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
