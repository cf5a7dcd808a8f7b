package auction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/auction/internal/models"
)

// BidRequest is a bid submitted by a registered bidder
type BidRequest struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    decimal.Decimal
	Size      string
}

// MinimumBid returns the lowest acceptable amount given the current top bid.
// The first bid must reach the base price, or the increment when there is none.
func MinimumBid(a *models.Auction, top *models.Bid) decimal.Decimal {
	if top != nil {
		return top.Amount.Add(a.MinIncrement)
	}
	if a.BasePrice.Valid {
		return a.BasePrice.Decimal
	}
	return a.MinIncrement
}

func checkSize(a *models.Auction, size string) error {
	if len(a.AvailableSizes) == 0 {
		return nil
	}
	if size == "" {
		return ErrSizeRequired
	}
	if !a.HasSize(size) {
		return fmt.Errorf("%w: %q is not offered", ErrInvalidSize, size)
	}
	return nil
}

// PlaceBid validates and records a bid. Validation and insert run in one
// transaction holding the auction lock, so concurrent bids on the same
// auction are checked one after another against the latest highest bid.
// Transient failures are returned to the caller and never retried here.
func (s *Service) PlaceBid(ctx context.Context, req BidRequest) (*models.BidResult, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: bid amount must be positive", ErrInvalidInput)
	}

	var result models.BidResult
	err := s.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.LockAuction(ctx, req.AuctionID)
		if err != nil {
			return err
		}

		// Read the clock under the lock so created_at follows lock order
		now := s.now()
		if phase := DerivePhase(a, now); phase != models.PhaseLive {
			return fmt.Errorf("%w: auction is %s", ErrInvalidPhase, phase)
		}

		registered, err := tx.IsRegistered(ctx, a.ID, req.BidderID)
		if err != nil {
			return err
		}
		if !registered {
			return ErrNotRegistered
		}

		if err := checkSize(a, req.Size); err != nil {
			return err
		}

		top, err := tx.HighestBid(ctx, a.ID)
		if err != nil {
			return err
		}
		if minimum := MinimumBid(a, top); req.Amount.LessThan(minimum) {
			return &BidTooLowError{Amount: req.Amount, Minimum: minimum}
		}

		bid := models.Bid{
			ID:        uuid.New(),
			AuctionID: a.ID,
			BidderID:  req.BidderID,
			Amount:    req.Amount,
			Size:      req.Size,
			CreatedAt: now,
		}
		if err := tx.InsertBid(ctx, &bid); err != nil {
			return err
		}

		end, extended := SoftClose(a.BiddingEndTime, now, s.extensionWindow)
		if extended {
			if err := tx.SetEndTime(ctx, a.ID, end); err != nil {
				return err
			}
		}

		result = models.BidResult{Bid: bid, Extended: extended, NewEndTime: end}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place bid on auction %s: %w", req.AuctionID, err)
	}

	s.log.WithFields(logrus.Fields{
		"auction_id": req.AuctionID,
		"bidder_id":  req.BidderID,
		"bid_id":     result.Bid.ID,
		"amount":     result.Bid.Amount.String(),
		"extended":   result.Extended,
	}).Info("bid accepted")

	bidID, amount, end := result.Bid.ID, result.Bid.Amount, result.NewEndTime
	s.notifier.Publish(models.Event{
		Type:       models.EventBidAccepted,
		AuctionID:  req.AuctionID,
		BidID:      &bidID,
		Amount:     &amount,
		CreatedAt:  result.Bid.CreatedAt,
		Extended:   result.Extended,
		NewEndTime: &end,
	})
	return &result, nil
}
