package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/auth"
	"github.com/xtrntr/auction/internal/config"
	"github.com/xtrntr/auction/internal/db"
	"github.com/xtrntr/auction/internal/logging"
	"github.com/xtrntr/auction/internal/sqlite"
)

type store interface {
	auction.Store
	auth.OperatorStore
	Close() error
}

// Seed the database with an operator account and a demo auction
func main() {
	configDir := flag.String("config", "configs", "directory containing config.yaml")
	username := flag.String("username", "admin", "operator username")
	password := flag.String("password", os.Getenv("AUCTION_SEED_PASSWORD"), "operator password")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.Setup(cfg.Server.LogLevel, "text", os.Stdout)
	ctx := context.Background()

	var st store
	if cfg.Database.Driver == "postgres" {
		database, err := db.NewDB(ctx, cfg.Database.URL, db.Options{MaxConns: 2, LockTimeout: cfg.Auction.LockTimeout})
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		if err := database.Migrate(ctx); err != nil {
			logger.Fatalf("Failed to apply schema: %v", err)
		}
		st = database
	} else {
		st, err = sqlite.Open(cfg.Database.URL)
		if err != nil {
			logger.Fatalf("Failed to open database: %v", err)
		}
	}
	defer st.Close()

	// Create the operator unless it already exists
	if *password == "" {
		logger.Fatal("Operator password required (-password or AUCTION_SEED_PASSWORD)")
	}
	authService := auth.NewAuthService(st, cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if _, err := authService.Register(ctx, *username, *password); err != nil {
		if !errors.Is(err, auction.ErrConflict) {
			logger.Fatalf("Failed to create operator: %v", err)
		}
		fmt.Printf("Operator %q already exists.\n", *username)
	} else {
		fmt.Printf("Created operator %q.\n", *username)
	}

	existing, err := st.ListAuctions(ctx)
	if err != nil {
		logger.Fatalf("Failed to check auctions: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("Database already has %d auctions. No need to seed.\n", len(existing))
		return
	}

	svc := auction.NewService(st, auction.Options{ExtensionWindow: cfg.Auction.ExtensionWindow, Logger: logger})
	now := time.Now().UTC()
	a, err := svc.CreateAuction(ctx, auction.AuctionInput{
		Title:               "Limited edition runners",
		ProductRef:          "DEMO-001",
		MinIncrement:        decimal.RequireFromString("50"),
		BasePrice:           decimal.NewNullDecimal(decimal.RequireFromString("1000")),
		RegistrationEndTime: now.Add(24 * time.Hour),
		BiddingStartTime:    now.Add(25 * time.Hour),
		BiddingEndTime:      now.Add(49 * time.Hour),
		AvailableSizes:      []string{"8", "9", "10", "11"},
	})
	if err != nil {
		logger.Fatalf("Failed to create demo auction: %v", err)
	}
	if _, err := svc.Publish(ctx, a.ID); err != nil {
		logger.Fatalf("Failed to publish demo auction: %v", err)
	}

	fmt.Printf("Successfully seeded demo auction %s!\n", a.ID)
}
