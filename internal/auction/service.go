package auction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/auction/internal/models"
)

// DefaultExtensionWindow is the soft-close window used when none is configured
const DefaultExtensionWindow = 2 * time.Minute

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	ExtensionWindow time.Duration
	Clock           func() time.Time
	Notifier        Notifier
	Logger          logrus.FieldLogger
}

// Service implements the auction lifecycle, bid acceptance, winner
// resolution and registration on top of a Store.
type Service struct {
	store           Store
	extensionWindow time.Duration
	clock           func() time.Time
	notifier        Notifier
	log             logrus.FieldLogger
}

// NewService creates a new auction service
func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:           store,
		extensionWindow: opts.ExtensionWindow,
		clock:           opts.Clock,
		notifier:        opts.Notifier,
		log:             opts.Logger,
	}
	if s.extensionWindow <= 0 {
		s.extensionWindow = DefaultExtensionWindow
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// now is the service's transaction time, at the precision PostgreSQL stores
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// GetAuction returns the auction with its bidding summary. A live auction
// past its end time is finalized first; if that fails the view is built
// from the pre-finalization data and finalization is retried on a later read.
func (s *Service) GetAuction(ctx context.Context, id uuid.UUID) (*models.AuctionView, error) {
	a, err := s.store.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}

	// Re-read after finalizing even when another reader got there first
	if IsDue(a, s.now()) {
		if _, _, err := s.FinalizeIfDue(ctx, id); err != nil {
			s.log.WithError(err).WithField("auction_id", id).Warn("lazy finalization failed")
		} else if a, err = s.store.GetAuction(ctx, id); err != nil {
			return nil, err
		}
	}

	return s.view(ctx, a)
}

// ListAuctions returns every auction's view, finalizing due auctions on the way
func (s *Service) ListAuctions(ctx context.Context) ([]models.AuctionView, error) {
	auctions, err := s.store.ListAuctions(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]models.AuctionView, 0, len(auctions))
	for _, a := range auctions {
		v, err := s.GetAuction(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

func (s *Service) view(ctx context.Context, a *models.Auction) (*models.AuctionView, error) {
	v := &models.AuctionView{Auction: *a, Phase: DerivePhase(a, s.now())}

	top, err := s.store.HighestBid(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if top != nil {
		v.CurrentHighestBid = decimal.NewNullDecimal(top.Amount)
		bidder, err := s.store.GetBidder(ctx, top.BidderID)
		if err != nil {
			return nil, err
		}
		v.HighestBidderName = &bidder.Name
	}

	if v.TotalBids, err = s.store.CountBids(ctx, a.ID); err != nil {
		return nil, err
	}

	winner, err := s.store.GetWinner(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if winner != nil {
		bidder, err := s.store.GetBidder(ctx, winner.BidderID)
		if err != nil {
			return nil, err
		}
		v.WinnerName = &bidder.Name
		v.WinningAmount = decimal.NewNullDecimal(winner.WinningAmount)
	}
	return v, nil
}

// ListBidders returns the auction's bidders with their personal highest bid
func (s *Service) ListBidders(ctx context.Context, auctionID uuid.UUID) ([]models.BidderStanding, error) {
	if _, err := s.store.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	bidders, err := s.store.ListBidders(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	out := make([]models.BidderStanding, 0, len(bidders))
	for _, b := range bidders {
		high, err := s.store.BidderHighest(ctx, auctionID, b.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, models.BidderStanding{Bidder: b, HighestAmount: high})
	}
	return out, nil
}

// ListBids returns the auction's bid history, newest first
func (s *Service) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	if _, err := s.store.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	return s.store.ListBids(ctx, auctionID)
}

// AuctionInput holds the operator-editable fields of an auction
type AuctionInput struct {
	Title               string
	ProductRef          string
	MinIncrement        decimal.Decimal
	BasePrice           decimal.NullDecimal
	RegistrationEndTime time.Time
	BiddingStartTime    time.Time
	BiddingEndTime      time.Time
	AvailableSizes      []string
}

func (in *AuctionInput) validate() error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	case !in.MinIncrement.IsPositive():
		return fmt.Errorf("%w: min_increment must be positive", ErrInvalidInput)
	case in.BasePrice.Valid && !in.BasePrice.Decimal.IsPositive():
		return fmt.Errorf("%w: base_price must be positive", ErrInvalidInput)
	case !in.RegistrationEndTime.Before(in.BiddingStartTime):
		return fmt.Errorf("%w: registration must end before bidding starts", ErrInvalidInput)
	case !in.BiddingStartTime.Before(in.BiddingEndTime):
		return fmt.Errorf("%w: bidding must start before it ends", ErrInvalidInput)
	}
	for _, size := range in.AvailableSizes {
		if strings.TrimSpace(size) == "" {
			return fmt.Errorf("%w: sizes must not be blank", ErrInvalidInput)
		}
	}
	return nil
}

// CreateAuction stores a new draft auction
func (s *Service) CreateAuction(ctx context.Context, in AuctionInput) (*models.Auction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	a := &models.Auction{
		ID:                  uuid.New(),
		Title:               strings.TrimSpace(in.Title),
		ProductRef:          in.ProductRef,
		Status:              models.StatusDraft,
		MinIncrement:        in.MinIncrement,
		BasePrice:           in.BasePrice,
		RegistrationEndTime: in.RegistrationEndTime.UTC(),
		BiddingStartTime:    in.BiddingStartTime.UTC(),
		BiddingEndTime:      in.BiddingEndTime.UTC(),
		AvailableSizes:      in.AvailableSizes,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.CreateAuction(ctx, a); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"auction_id": a.ID, "title": a.Title}).Info("auction created")
	return a, nil
}

// biddingTermsChanged reports whether an edit touches fields that accepted
// bids were validated against.
func biddingTermsChanged(a *models.Auction, in *AuctionInput) bool {
	if !a.MinIncrement.Equal(in.MinIncrement) || a.BasePrice.Valid != in.BasePrice.Valid {
		return true
	}
	if a.BasePrice.Valid && !a.BasePrice.Decimal.Equal(in.BasePrice.Decimal) {
		return true
	}
	if !a.RegistrationEndTime.Equal(in.RegistrationEndTime) ||
		!a.BiddingStartTime.Equal(in.BiddingStartTime) ||
		!a.BiddingEndTime.Equal(in.BiddingEndTime) {
		return true
	}
	if len(a.AvailableSizes) != len(in.AvailableSizes) {
		return true
	}
	for i := range a.AvailableSizes {
		if a.AvailableSizes[i] != in.AvailableSizes[i] {
			return true
		}
	}
	return false
}

// UpdateAuction applies an operator edit. Bidding terms and the schedule are
// frozen once the auction has bids; ended auctions cannot be edited.
func (s *Service) UpdateAuction(ctx context.Context, id uuid.UUID, in AuctionInput) (*models.Auction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var out *models.Auction
	err := s.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.LockAuction(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == models.StatusEnded {
			return fmt.Errorf("%w: auction has ended", ErrInvalidPhase)
		}

		count, err := tx.CountBids(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 && biddingTermsChanged(a, &in) {
			return fmt.Errorf("%w: bidding terms cannot change after %d bids", ErrConflict, count)
		}

		a.Title = strings.TrimSpace(in.Title)
		a.ProductRef = in.ProductRef
		a.MinIncrement = in.MinIncrement
		a.BasePrice = in.BasePrice
		a.RegistrationEndTime = in.RegistrationEndTime.UTC()
		a.BiddingStartTime = in.BiddingStartTime.UTC()
		a.BiddingEndTime = in.BiddingEndTime.UTC()
		a.AvailableSizes = in.AvailableSizes
		a.UpdatedAt = s.now()
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update auction %s: %w", id, err)
	}
	return out, nil
}

// DeleteAuction removes an auction that has no bids
func (s *Service) DeleteAuction(ctx context.Context, id uuid.UUID) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LockAuction(ctx, id); err != nil {
			return err
		}
		count, err := tx.CountBids(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: auction has %d bids", ErrConflict, count)
		}
		return tx.DeleteAuction(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete auction %s: %w", id, err)
	}

	s.log.WithField("auction_id", id).Info("auction deleted")
	return nil
}
