package auction

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/xtrntr/auction/internal/models"
)

// ResolveWinner persists and returns the winner of an ended auction, or nil
// when it ended without bids. Calling it again returns the same record.
func (s *Service) ResolveWinner(ctx context.Context, id uuid.UUID) (*models.Winner, error) {
	var winner *models.Winner
	err := s.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.LockAuction(ctx, id)
		if err != nil {
			return err
		}
		if phase := DerivePhase(a, s.now()); phase != models.PhaseEnded {
			return fmt.Errorf("%w: auction is %s", ErrInvalidPhase, phase)
		}

		winner, err = s.resolveWinner(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve winner for auction %s: %w", id, err)
	}
	return winner, nil
}

// resolveWinner must run with the auction locked and bidding closed.
func (s *Service) resolveWinner(ctx context.Context, tx Tx, id uuid.UUID) (*models.Winner, error) {
	top, err := tx.HighestBid(ctx, id)
	if err != nil {
		return nil, err
	}
	if top == nil {
		return nil, nil
	}

	return tx.UpsertWinner(ctx, &models.Winner{
		AuctionID:     id,
		BidderID:      top.BidderID,
		BidID:         top.ID,
		WinningAmount: top.Amount,
		DeclaredAt:    s.now(),
	})
}
