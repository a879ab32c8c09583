package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Deathvks/AutoGest-sub000/internal/archive"
	"github.com/Deathvks/AutoGest-sub000/internal/database"
	"github.com/Deathvks/AutoGest-sub000/internal/email"
	"github.com/Deathvks/AutoGest-sub000/internal/gateway"
	"github.com/Deathvks/AutoGest-sub000/internal/logging"
	"github.com/Deathvks/AutoGest-sub000/internal/notify"
	"github.com/Deathvks/AutoGest-sub000/internal/server"
)

// eventRetention is how long processed webhook event ids are kept for
// deduplication. The gateway does not redeliver beyond this horizon.
const eventRetention = 48 * time.Hour

func main() {
	logger := logging.Setup(os.Getenv("AUTOGEST_LOG_LEVEL"), os.Getenv("AUTOGEST_LOG_FORMAT"))

	if err := run(logger); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	port := os.Getenv("AUTOGEST_PORT")
	if port == "" {
		port = "8080"
	}
	dbPath := os.Getenv("AUTOGEST_DB_PATH")
	if dbPath == "" {
		dbPath = "autogest.db"
	}

	db, err := database.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	gw, err := gateway.NewClient(gateway.Config{
		SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PriceID:       os.Getenv("STRIPE_PRICE_ID"),
	})
	if err != nil {
		return err
	}

	emailClient := email.NewClient(os.Getenv("AUTOGEST_POSTMARK_TOKEN"), os.Getenv("AUTOGEST_FROM_EMAIL"))

	archiver := archive.New(archive.S3Config{
		Endpoint:  os.Getenv("AUTOGEST_S3_ENDPOINT"),
		Bucket:    os.Getenv("AUTOGEST_S3_BUCKET"),
		Region:    os.Getenv("AUTOGEST_S3_REGION"),
		AccessKey: os.Getenv("AUTOGEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("AUTOGEST_S3_SECRET_KEY"),
	})

	cfg := server.Config{
		EmailClient: emailClient,
		Archiver:    archiver,
		VAPID: notify.VAPIDConfig{
			PublicKey:  os.Getenv("AUTOGEST_VAPID_PUBLIC_KEY"),
			PrivateKey: os.Getenv("AUTOGEST_VAPID_PRIVATE_KEY"),
			Subscriber: "mailto:soporte@autogest.app",
		},
	}

	srv := server.New(db, gw, cfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
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
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					logger.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					logger.Info("cleaned up expired sessions", "count", n)
				}
				if n, err := srv.EventStore().DeleteOlderThan(eventRetention); err != nil {
					logger.Error("cleanup processed events", "error", err)
				} else if n > 0 {
					logger.Info("cleaned up processed events", "count", n)
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("autogest billing service starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
