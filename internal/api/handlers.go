package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/auth"
	"github.com/xtrntr/auction/internal/models"
)

// Subscriber streams auction events to a websocket peer
type Subscriber interface {
	ServeWS(w http.ResponseWriter, r *http.Request, auctionID uuid.UUID)
}

// Options tunes bid retries and rate limiting. Zero values fall back to
// defaults; a zero RatePerSecond disables rate limiting.
type Options struct {
	RetryAttempts uint64
	RetryInterval time.Duration
	RatePerSecond float64
	Burst         int
	Logger        logrus.FieldLogger
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Service     AuctionService
	AuthService *auth.AuthService
	Hub         Subscriber

	validate      *validator.Validate
	limiter       *bidderLimiter
	retryAttempts uint64
	retryInterval time.Duration
	log           logrus.FieldLogger
}

// NewHandler creates a new handler
func NewHandler(svc AuctionService, authService *auth.AuthService, hub Subscriber, opts Options) *Handler {
	h := &Handler{
		Service:       svc,
		AuthService:   authService,
		Hub:           hub,
		validate:      newValidator(),
		limiter:       newBidderLimiter(opts.RatePerSecond, opts.Burst),
		retryAttempts: opts.RetryAttempts,
		retryInterval: opts.RetryInterval,
		log:           opts.Logger,
	}
	if h.retryInterval <= 0 {
		h.retryInterval = 50 * time.Millisecond
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}
	return h
}

func auctionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid auction ID"})
		return uuid.Nil, false
	}
	return id, true
}

// Login handles operator login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.WithError(err).Error("login failed")
		}
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Invalid credentials"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ListAuctions returns every auction with its bidding summary
func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	views, err := h.Service.ListAuctions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// GetAuction returns one auction, finalizing it first if it is due
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	view, err := h.Service.GetAuction(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListBids returns the bid history, newest first
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	bids, err := h.Service.ListBids(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

// ListBidders returns registered bidders with their highest bids
func (h *Handler) ListBidders(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	bidders, err := h.Service.ListBidders(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bidders)
}

// RegisterBidder registers a verified identity for an auction and returns a
// bidder token
func (h *Handler) RegisterBidder(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	var req registerBidderRequest
	if !h.decode(w, r, &req) {
		return
	}

	bidder, err := h.Service.RegisterBidder(r.Context(), auction.Registration{
		AuctionID: id,
		Name:      req.Name,
		Phone:     req.Phone,
		Email:     req.Email,
		Verified:  req.Verified,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	token, err := h.AuthService.IssueBidderToken(bidder)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerBidderResponse{Bidder: bidder, Token: token})
}

// PlaceBid submits a bid for the authenticated bidder. Transient storage
// failures are retried with backoff; every other error is final.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	claims, ok := claimsFrom(r.Context())
	if !ok || claims.AuctionID != id.String() {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "Token is not valid for this auction"})
		return
	}
	bidderID := claims.SubjectID()

	if !h.limiter.Allow(bidderID) {
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "Too many bids, slow down"})
		return
	}

	var req placeBidRequest
	if !h.decode(w, r, &req) {
		return
	}

	bidReq := auction.BidRequest{
		AuctionID: id,
		BidderID:  bidderID,
		Amount:    req.Amount,
		Size:      req.Size,
	}
	result, err := h.placeWithRetry(r.Context(), bidReq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) placeWithRetry(ctx context.Context, req auction.BidRequest) (*models.BidResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.retryInterval
	b.MaxElapsedTime = 0

	var result *models.BidResult
	operation := func() error {
		res, err := h.Service.PlaceBid(ctx, req)
		if err != nil {
			if errors.Is(err, auction.ErrTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		h.log.WithError(err).WithFields(logrus.Fields{
			"auction_id": req.AuctionID,
			"bidder_id":  req.BidderID,
			"wait":       wait.String(),
		}).Warn("retrying bid")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, h.retryAttempts), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateAuction creates a draft auction
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req auctionRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.Service.CreateAuction(r.Context(), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// UpdateAuction edits an auction. Bidding terms are frozen once bids exist.
func (h *Handler) UpdateAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	var req auctionRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.Service.UpdateAuction(r.Context(), id, req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DeleteAuction removes an auction that has no bids
func (h *Handler) DeleteAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteAuction(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PublishAuction moves a draft auction to live
func (h *Handler) PublishAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	a, err := h.Service.Publish(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// CloseAuction ends an auction immediately and resolves its winner
func (h *Handler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	winner, err := h.Service.Close(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, closeResponse{AuctionID: id.String(), Winner: winner})
}

// Subscribe streams an auction's events over a websocket
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}
	if _, err := h.Service.GetAuction(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Hub.ServeWS(w, r, id)
}

// Health reports that the server is up
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
