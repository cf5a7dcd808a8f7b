package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/auction/internal/models"
)

// DerivePhase classifies an auction at now. It never mutates the auction.
func DerivePhase(a *models.Auction, now time.Time) models.Phase {
	switch {
	case a.Status == models.StatusEnded || now.After(a.BiddingEndTime):
		return models.PhaseEnded
	case a.Status == models.StatusLive && !now.Before(a.BiddingStartTime):
		return models.PhaseLive
	case now.Before(a.RegistrationEndTime) && now.Before(a.BiddingStartTime):
		return models.PhaseRegistration
	default:
		return models.PhaseUpcoming
	}
}

// IsDue reports whether a stored-live auction has passed its end time and
// needs finalizing.
func IsDue(a *models.Auction, now time.Time) bool {
	return a.Status == models.StatusLive && DerivePhase(a, now) == models.PhaseEnded
}

// SoftClose returns the end time after a bid at createdAt. When fewer than
// window remains, the end moves to createdAt+window.
func SoftClose(end, createdAt time.Time, window time.Duration) (time.Time, bool) {
	if window <= 0 || end.Sub(createdAt) >= window {
		return end, false
	}
	return createdAt.Add(window), true
}

// FinalizeIfDue ends a live auction whose bidding end time has passed and
// persists its winner. Already ended or not yet due auctions are left alone.
// It holds the auction lock, so bids that locked the row first are counted.
func (s *Service) FinalizeIfDue(ctx context.Context, id uuid.UUID) (bool, *models.Winner, error) {
	var (
		finalized bool
		winner    *models.Winner
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.LockAuction(ctx, id)
		if err != nil {
			return err
		}
		if !IsDue(a, s.now()) {
			return nil
		}

		winner, err = s.resolveWinner(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := tx.SetStatus(ctx, id, models.StatusEnded); err != nil {
			return err
		}
		finalized = true
		return nil
	})
	if err != nil {
		return false, nil, fmt.Errorf("failed to finalize auction %s: %w", id, err)
	}

	if finalized {
		s.auctionEnded(id, winner)
	}
	return finalized, winner, nil
}

// Publish moves a draft auction to live.
func (s *Service) Publish(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	var out *models.Auction
	err := s.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.LockAuction(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != models.StatusDraft {
			return fmt.Errorf("%w: auction is %s, not draft", ErrInvalidPhase, a.Status)
		}
		if s.now().After(a.BiddingEndTime) {
			return fmt.Errorf("%w: bidding window already closed", ErrInvalidPhase)
		}
		if err := tx.SetStatus(ctx, id, models.StatusLive); err != nil {
			return err
		}
		a.Status = models.StatusLive
		out = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish auction %s: %w", id, err)
	}

	s.log.WithField("auction_id", id).Info("auction published")
	return out, nil
}

// Close ends an auction immediately on operator request and resolves its
// winner. Closing an ended auction returns its existing outcome.
func (s *Service) Close(ctx context.Context, id uuid.UUID) (*models.Winner, error) {
	var (
		winner *models.Winner
		closed bool
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.LockAuction(ctx, id)
		if err != nil {
			return err
		}

		now := s.now()
		if a.Status != models.StatusEnded && now.Before(a.BiddingEndTime) {
			if err := tx.SetEndTime(ctx, id, now); err != nil {
				return err
			}
		}

		winner, err = s.resolveWinner(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Status == models.StatusEnded {
			return nil
		}
		if err := tx.SetStatus(ctx, id, models.StatusEnded); err != nil {
			return err
		}
		closed = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to close auction %s: %w", id, err)
	}

	if closed {
		s.auctionEnded(id, winner)
	}
	return winner, nil
}

func (s *Service) auctionEnded(id uuid.UUID, winner *models.Winner) {
	fields := logrus.Fields{"auction_id": id}
	if winner != nil {
		fields["bidder_id"] = winner.BidderID
		fields["amount"] = winner.WinningAmount.String()
	}
	s.log.WithFields(fields).Info("auction ended")

	s.notifier.Publish(models.Event{
		Type:      models.EventAuctionEnded,
		AuctionID: id,
		CreatedAt: s.now(),
		Winner:    winner,
	})
}
