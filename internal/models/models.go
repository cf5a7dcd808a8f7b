package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the persisted state of an auction
type Status string

const (
	StatusDraft Status = "draft"
	StatusLive  Status = "live"
	StatusEnded Status = "ended"
)

// Phase is the time-derived classification of an auction, distinct from Status
type Phase string

const (
	PhaseRegistration Phase = "registration"
	PhaseUpcoming     Phase = "upcoming"
	PhaseLive         Phase = "live"
	PhaseEnded        Phase = "ended"
)

// Auction represents a timed auction for one product
type Auction struct {
	ID                  uuid.UUID           `json:"id"`
	Title               string              `json:"title"`
	ProductRef          string              `json:"product_ref"`
	Status              Status              `json:"status"`
	MinIncrement        decimal.Decimal     `json:"min_increment"`
	BasePrice           decimal.NullDecimal `json:"base_price"`
	RegistrationEndTime time.Time           `json:"registration_end_time"`
	BiddingStartTime    time.Time           `json:"bidding_start_time"`
	BiddingEndTime      time.Time           `json:"bidding_end_time"` // Extended by soft close
	AvailableSizes      []string            `json:"available_sizes"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// HasSize reports whether size is one of the auction's allowed sizes
func (a *Auction) HasSize(size string) bool {
	for _, s := range a.AvailableSizes {
		if s == size {
			return true
		}
	}
	return false
}

// Bidder is a person registered to bid on one auction
type Bidder struct {
	ID           uuid.UUID `json:"id"`
	AuctionID    uuid.UUID `json:"auction_id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	Email        string    `json:"email"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Bid is an accepted bid. Bids are never updated or deleted.
type Bid struct {
	ID        uuid.UUID       `json:"id"`
	AuctionID uuid.UUID       `json:"auction_id"`
	BidderID  uuid.UUID       `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Size      string          `json:"size,omitempty"`
	CreatedAt time.Time       `json:"created_at"` // Used for time priority
}

// Outranks reports whether b beats other: higher amount first, then earliest time
func (b *Bid) Outranks(other *Bid) bool {
	if other == nil {
		return true
	}
	if b.Amount.Equal(other.Amount) {
		return b.CreatedAt.Before(other.CreatedAt)
	}
	return b.Amount.GreaterThan(other.Amount)
}

// Winner is the persisted outcome of an ended auction
type Winner struct {
	AuctionID     uuid.UUID       `json:"auction_id"`
	BidderID      uuid.UUID       `json:"bidder_id"`
	BidID         uuid.UUID       `json:"bid_id"`
	WinningAmount decimal.Decimal `json:"winning_amount"`
	DeclaredAt    time.Time       `json:"declared_at"`
}

// Operator is an administrator allowed to create and manage auctions
type Operator struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// BidderStanding annotates a bidder with their personal highest bid
type BidderStanding struct {
	Bidder
	HighestAmount decimal.NullDecimal `json:"highest_amount"`
}

// AuctionView is the read model returned by GetAuction
type AuctionView struct {
	Auction
	Phase             Phase               `json:"phase"`
	CurrentHighestBid decimal.NullDecimal `json:"current_highest_bid"`
	TotalBids         int                 `json:"total_bids"`
	HighestBidderName *string             `json:"highest_bidder_name"`
	WinnerName        *string             `json:"winner_name"`
	WinningAmount     decimal.NullDecimal `json:"winning_amount"`
}

// BidResult is the outcome of an accepted bid
type BidResult struct {
	Bid        Bid       `json:"bid"`
	Extended   bool      `json:"extended"`
	NewEndTime time.Time `json:"new_end_time"`
}

// Event types fanned out to subscribers
const (
	EventBidAccepted  = "bid_accepted"
	EventAuctionEnded = "auction_ended"
)

// Event is a notification about an auction, published after commit
type Event struct {
	Type       string           `json:"type"`
	AuctionID  uuid.UUID        `json:"auction_id"`
	BidID      *uuid.UUID       `json:"bid_id,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	Extended   bool             `json:"extended,omitempty"`
	NewEndTime *time.Time       `json:"new_end_time,omitempty"`
	Winner     *Winner          `json:"winner,omitempty"`
}
