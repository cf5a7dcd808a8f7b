package auction

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/auction/internal/models"
)

// Registration is a bidder identity vouched for by the verification service
type Registration struct {
	AuctionID uuid.UUID
	Name      string
	Phone     string
	Email     string
	Verified  bool
}

// NormalizePhone strips formatting so "+1 (555) 010-2000" and
// "+15550102000" register as the same identity.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RegisterBidder creates a bidder for one auction while registration is open.
// A closed registration window is reported before the verification flag.
func (s *Service) RegisterBidder(ctx context.Context, reg Registration) (*models.Bidder, error) {
	name := strings.TrimSpace(reg.Name)
	phone := NormalizePhone(reg.Phone)
	email := strings.ToLower(strings.TrimSpace(reg.Email))
	if name == "" || phone == "" || email == "" {
		return nil, fmt.Errorf("%w: name, phone and email are required", ErrInvalidInput)
	}

	a, err := s.store.GetAuction(ctx, reg.AuctionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if a.Status == models.StatusEnded || !now.Before(a.RegistrationEndTime) {
		return nil, fmt.Errorf("%w: registration closed at %s", ErrInvalidPhase, a.RegistrationEndTime.Format("2006-01-02 15:04:05 MST"))
	}
	if !reg.Verified {
		return nil, ErrUnverified
	}

	bidder := &models.Bidder{
		ID:           uuid.New(),
		AuctionID:    a.ID,
		Name:         name,
		Phone:        phone,
		Email:        email,
		RegisteredAt: now,
	}
	if err := s.store.CreateBidder(ctx, bidder); err != nil {
		return nil, fmt.Errorf("failed to register bidder for auction %s: %w", a.ID, err)
	}

	s.log.WithFields(logrus.Fields{
		"auction_id": a.ID,
		"bidder_id":  bidder.ID,
	}).Info("bidder registered")
	return bidder, nil
}
