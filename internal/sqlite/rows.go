package sqlite

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/auction/internal/models"
)

type auctionRow struct {
	ID                  uuid.UUID           `db:"id"`
	Title               string              `db:"title"`
	ProductRef          string              `db:"product_ref"`
	Status              string              `db:"status"`
	MinIncrement        decimal.Decimal     `db:"min_increment"`
	BasePrice           decimal.NullDecimal `db:"base_price"`
	RegistrationEndTime string              `db:"registration_end_time"`
	BiddingStartTime    string              `db:"bidding_start_time"`
	BiddingEndTime      string              `db:"bidding_end_time"`
	AvailableSizes      string              `db:"available_sizes"`
	CreatedAt           string              `db:"created_at"`
	UpdatedAt           string              `db:"updated_at"`
}

func (r *auctionRow) model() (*models.Auction, error) {
	a := &models.Auction{
		ID:           r.ID,
		Title:        r.Title,
		ProductRef:   r.ProductRef,
		Status:       models.Status(r.Status),
		MinIncrement: r.MinIncrement,
		BasePrice:    r.BasePrice,
	}
	var err error
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&a.RegistrationEndTime, r.RegistrationEndTime},
		{&a.BiddingStartTime, r.BiddingStartTime},
		{&a.BiddingEndTime, r.BiddingEndTime},
		{&a.CreatedAt, r.CreatedAt},
		{&a.UpdatedAt, r.UpdatedAt},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal([]byte(r.AvailableSizes), &a.AvailableSizes); err != nil {
		return nil, err
	}
	if a.AvailableSizes == nil {
		a.AvailableSizes = []string{}
	}
	return a, nil
}

type bidRow struct {
	ID        uuid.UUID       `db:"id"`
	AuctionID uuid.UUID       `db:"auction_id"`
	BidderID  uuid.UUID       `db:"bidder_id"`
	Amount    decimal.Decimal `db:"amount"`
	Size      string          `db:"size"`
	CreatedAt string          `db:"created_at"`
}

func (r *bidRow) model() (*models.Bid, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &models.Bid{
		ID:        r.ID,
		AuctionID: r.AuctionID,
		BidderID:  r.BidderID,
		Amount:    r.Amount,
		Size:      r.Size,
		CreatedAt: created,
	}, nil
}

type bidderRow struct {
	ID           uuid.UUID `db:"id"`
	AuctionID    uuid.UUID `db:"auction_id"`
	Name         string    `db:"name"`
	Phone        string    `db:"phone"`
	Email        string    `db:"email"`
	RegisteredAt string    `db:"registered_at"`
}

func (r *bidderRow) model() (*models.Bidder, error) {
	registered, err := parseTime(r.RegisteredAt)
	if err != nil {
		return nil, err
	}
	return &models.Bidder{
		ID:           r.ID,
		AuctionID:    r.AuctionID,
		Name:         r.Name,
		Phone:        r.Phone,
		Email:        r.Email,
		RegisteredAt: registered,
	}, nil
}

type winnerRow struct {
	AuctionID     uuid.UUID       `db:"auction_id"`
	BidderID      uuid.UUID       `db:"bidder_id"`
	BidID         uuid.UUID       `db:"bid_id"`
	WinningAmount decimal.Decimal `db:"winning_amount"`
	DeclaredAt    string          `db:"declared_at"`
}

func (r *winnerRow) model() (*models.Winner, error) {
	declared, err := parseTime(r.DeclaredAt)
	if err != nil {
		return nil, err
	}
	return &models.Winner{
		AuctionID:     r.AuctionID,
		BidderID:      r.BidderID,
		BidID:         r.BidID,
		WinningAmount: r.WinningAmount,
		DeclaredAt:    declared,
	}, nil
}
