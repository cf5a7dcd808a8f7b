package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/models"
)

//go:generate mockgen -source=service.go -destination=mock_service_test.go -package=api

// AuctionService is the subset of *auction.Service the handlers use
type AuctionService interface {
	GetAuction(ctx context.Context, id uuid.UUID) (*models.AuctionView, error)
	ListAuctions(ctx context.Context) ([]models.AuctionView, error)
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
	ListBidders(ctx context.Context, auctionID uuid.UUID) ([]models.BidderStanding, error)
	RegisterBidder(ctx context.Context, reg auction.Registration) (*models.Bidder, error)
	PlaceBid(ctx context.Context, req auction.BidRequest) (*models.BidResult, error)
	CreateAuction(ctx context.Context, in auction.AuctionInput) (*models.Auction, error)
	UpdateAuction(ctx context.Context, id uuid.UUID, in auction.AuctionInput) (*models.Auction, error)
	DeleteAuction(ctx context.Context, id uuid.UUID) error
	Publish(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	Close(ctx context.Context, id uuid.UUID) (*models.Winner, error)
}

var _ AuctionService = (*auction.Service)(nil)
