package auction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/auction/internal/models"
)

// Ledger is the read side of the append-only bid history.
type Ledger interface {
	// HighestBid returns the top bid by amount, earliest first on ties,
	// or nil when the auction has no bids.
	HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error)
	CountBids(ctx context.Context, auctionID uuid.UUID) (int, error)
	// BidderHighest returns the bidder's own highest amount, invalid when none.
	BidderHighest(ctx context.Context, auctionID, bidderID uuid.UUID) (decimal.NullDecimal, error)
	// ListBids returns the bid history newest first.
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
}

// Tx is a storage transaction. LockAuction must serialize every other
// transaction that locks the same auction until commit or rollback.
type Tx interface {
	Ledger
	LockAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	IsRegistered(ctx context.Context, auctionID, bidderID uuid.UUID) (bool, error)
	InsertBid(ctx context.Context, bid *models.Bid) error
	SetEndTime(ctx context.Context, auctionID uuid.UUID, end time.Time) error
	SetStatus(ctx context.Context, auctionID uuid.UUID, status models.Status) error
	// UpsertWinner inserts w unless a winner already exists for the auction
	// and returns the persisted row either way.
	UpsertWinner(ctx context.Context, w *models.Winner) (*models.Winner, error)
	UpdateAuction(ctx context.Context, a *models.Auction) error
	DeleteAuction(ctx context.Context, id uuid.UUID) error
}

// Store is the durable record of auctions, bidders, bids and winners.
type Store interface {
	Ledger
	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	CreateAuction(ctx context.Context, a *models.Auction) error
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	ListAuctions(ctx context.Context) ([]models.Auction, error)
	// ListDueAuctions returns live auctions whose bidding end time is before now.
	ListDueAuctions(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	CreateBidder(ctx context.Context, b *models.Bidder) error
	GetBidder(ctx context.Context, id uuid.UUID) (*models.Bidder, error)
	ListBidders(ctx context.Context, auctionID uuid.UUID) ([]models.Bidder, error)
	// GetWinner returns nil when no winner has been declared.
	GetWinner(ctx context.Context, auctionID uuid.UUID) (*models.Winner, error)
}

// Notifier receives events after the transaction that produced them commits.
type Notifier interface {
	Publish(event models.Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(models.Event) {}
