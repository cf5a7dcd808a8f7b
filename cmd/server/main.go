package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/xtrntr/auction/internal/api"
	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/auth"
	"github.com/xtrntr/auction/internal/config"
	"github.com/xtrntr/auction/internal/db"
	"github.com/xtrntr/auction/internal/logging"
	"github.com/xtrntr/auction/internal/notify"
	"github.com/xtrntr/auction/internal/sqlite"
)

type store interface {
	auction.Store
	auth.OperatorStore
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config) (store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		database, err := db.NewDB(ctx, cfg.Database.URL, db.Options{
			MaxConns:    cfg.Database.MaxConns,
			LockTimeout: cfg.Auction.LockTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, err
		}
		return database, nil
	default:
		return sqlite.Open(cfg.Database.URL)
	}
}

func originAllowed(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Main entry point: loads config, opens the store and serves the HTTP API
func main() {
	configDir := flag.String("config", "configs", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.Setup(cfg.Server.LogLevel, cfg.Server.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to open %s store: %v", cfg.Database.Driver, err)
	}
	defer st.Close()

	hub := notify.NewHub(logger)
	hub.Upgrader = websocket.Upgrader{CheckOrigin: originAllowed(cfg.Server.AllowedOrigins)}

	svc := auction.NewService(st, auction.Options{
		ExtensionWindow: cfg.Auction.ExtensionWindow,
		Notifier:        hub,
		Logger:          logger,
	})
	authService := auth.NewAuthService(st, cfg.Auth.Secret, cfg.Auth.TokenTTL)

	handler := api.NewHandler(svc, authService, hub, api.Options{
		RetryAttempts: cfg.Bidding.RetryAttempts,
		RatePerSecond: cfg.Bidding.RatePerSecond,
		Burst:         cfg.Bidding.Burst,
		Logger:        logger,
	})

	// Finalize auctions nobody reads
	go svc.RunSweeper(ctx, cfg.Auction.SweepInterval)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithFields(log.Fields{"port": cfg.Server.Port, "driver": cfg.Database.Driver}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
}
