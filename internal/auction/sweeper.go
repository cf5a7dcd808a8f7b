package auction

import (
	"context"
	"time"
)

// SweepOnce finalizes every live auction whose end time has passed and
// returns how many were finalized. Failures are logged and left for the next
// sweep or read.
func (s *Service) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.store.ListDueAuctions(ctx, s.now())
	if err != nil {
		return 0, err
	}

	finalized := 0
	for _, id := range ids {
		done, _, err := s.FinalizeIfDue(ctx, id)
		if err != nil {
			s.log.WithError(err).WithField("auction_id", id).Warn("sweep finalization failed")
			continue
		}
		if done {
			finalized++
		}
	}
	return finalized, nil
}

// RunSweeper calls SweepOnce every interval until ctx is cancelled
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.log.WithError(err).Error("auction sweep failed")
				continue
			}
			if n > 0 {
				s.log.WithField("finalized", n).Info("auction sweep finalized auctions")
			}
		}
	}
}
