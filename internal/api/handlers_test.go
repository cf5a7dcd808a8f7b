package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/auth"
	"github.com/xtrntr/auction/internal/models"
)

type fakeOperators struct {
	mu  sync.Mutex
	ops map[string]*models.Operator
}

func (f *fakeOperators) CreateOperator(ctx context.Context, username, hash string) (*models.Operator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ops[username]; ok {
		return nil, auction.ErrConflict
	}
	op := &models.Operator{ID: uuid.New(), Username: username, PasswordHash: hash, CreatedAt: time.Now()}
	f.ops[username] = op
	return op, nil
}

func (f *fakeOperators) GetOperatorByUsername(ctx context.Context, username string) (*models.Operator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.ops[username]
	if !ok {
		return nil, fmt.Errorf("operator %q: %w", username, auction.ErrNotFound)
	}
	return op, nil
}

type fakeHub struct {
	served []uuid.UUID
}

func (f *fakeHub) ServeWS(w http.ResponseWriter, r *http.Request, auctionID uuid.UUID) {
	f.served = append(f.served, auctionID)
	w.WriteHeader(http.StatusSwitchingProtocols)
}

type testEnv struct {
	svc    *MockAuctionService
	auth   *auth.AuthService
	hub    *fakeHub
	router http.Handler
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)

	logger, _ := test.NewNullLogger()
	opts.Logger = logger
	if opts.RetryInterval == 0 {
		opts.RetryInterval = time.Millisecond
	}

	env := &testEnv{
		svc:  NewMockAuctionService(ctrl),
		auth: auth.NewAuthService(&fakeOperators{ops: map[string]*models.Operator{}}, "test-secret", time.Hour),
		hub:  &fakeHub{},
	}
	h := NewHandler(env.svc, env.auth, env.hub, opts)
	env.router = NewRouter(h, []string{"*"})
	return env
}

func (e *testEnv) operatorToken(t *testing.T) string {
	t.Helper()
	_, err := e.auth.Register(context.Background(), "admin", "password123")
	require.NoError(t, err)
	token, err := e.auth.Login(context.Background(), "admin", "password123")
	require.NoError(t, err)
	return token
}

func (e *testEnv) bidderToken(t *testing.T, auctionID, bidderID uuid.UUID) string {
	t.Helper()
	token, err := e.auth.IssueBidderToken(&models.Bidder{ID: bidderID, AuctionID: auctionID})
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, err := env.auth.Register(context.Background(), "admin", "password123")
	require.NoError(t, err)

	tests := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{name: "success", body: loginRequest{Username: "admin", Password: "password123"}, expectedStatus: http.StatusOK},
		{name: "wrong_password", body: loginRequest{Username: "admin", Password: "nope"}, expectedStatus: http.StatusUnauthorized},
		{name: "unknown_user", body: loginRequest{Username: "ghost", Password: "password123"}, expectedStatus: http.StatusUnauthorized},
		{name: "missing_fields", body: loginRequest{}, expectedStatus: http.StatusBadRequest},
		{name: "invalid_json", body: `{invalid json}`, expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/auth/login", tt.body, "")
			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())

			body := decodeBody(t, rr)
			if tt.expectedStatus == http.StatusOK {
				claims, err := env.auth.ParseToken(body["token"].(string))
				require.NoError(t, err)
				assert.Equal(t, auth.RoleOperator, claims.Role)
			} else {
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestPlaceBid(t *testing.T) {
	auctionID := uuid.New()
	bidderID := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	accepted := func(amount string) *models.BidResult {
		return &models.BidResult{
			Bid: models.Bid{
				ID:        uuid.New(),
				AuctionID: auctionID,
				BidderID:  bidderID,
				Amount:    decimal.RequireFromString(amount),
				CreatedAt: now,
			},
			NewEndTime: now.Add(time.Hour),
		}
	}

	tests := []struct {
		name           string
		body           any
		mockSetup      func(svc *MockAuctionService)
		expectedStatus int
		validate       func(t *testing.T, body map[string]any)
	}{
		{
			name: "accepted",
			body: `{"amount": "150.50", "size": "M"}`,
			mockSetup: func(svc *MockAuctionService) {
				svc.EXPECT().PlaceBid(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, req auction.BidRequest) (*models.BidResult, error) {
						assert.Equal(t, auctionID, req.AuctionID)
						assert.Equal(t, bidderID, req.BidderID)
						assert.True(t, decimal.RequireFromString("150.50").Equal(req.Amount))
						assert.Equal(t, "M", req.Size)
						return accepted("150.50"), nil
					})
			},
			expectedStatus: http.StatusCreated,
			validate: func(t *testing.T, body map[string]any) {
				bid := body["bid"].(map[string]any)
				assert.Equal(t, "150.5", bid["amount"])
				assert.Equal(t, false, body["extended"])
			},
		},
		{
			name: "numeric_amount",
			body: `{"amount": 100}`,
			mockSetup: func(svc *MockAuctionService) {
				svc.EXPECT().PlaceBid(gomock.Any(), gomock.Any()).Return(accepted("100"), nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "too_low",
			body: `{"amount": "90"}`,
			mockSetup: func(svc *MockAuctionService) {
				svc.EXPECT().PlaceBid(gomock.Any(), gomock.Any()).Return(nil, &auction.BidTooLowError{
					Amount:  decimal.RequireFromString("90"),
					Minimum: decimal.RequireFromString("100"),
				})
			},
			expectedStatus: http.StatusUnprocessableEntity,
			validate: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "100", body["minimum"])
				assert.Contains(t, body["error"], "minimum")
			},
		},
		{
			name: "not_registered",
			body: `{"amount": "100"}`,
			mockSetup: func(svc *MockAuctionService) {
				svc.EXPECT().PlaceBid(gomock.Any(), gomock.Any()).Return(nil, auction.ErrNotRegistered)
			},
			expectedStatus: http.StatusForbidden,
		},
		{
			name: "auction_not_live",
			body: `{"amount": "100"}`,
			mockSetup: func(svc *MockAuctionService) {
				svc.EXPECT().PlaceBid(gomock.Any(), gomock.Any()).
					Return(nil, fmt.Errorf("%w: auction is ended", auction.ErrInvalidPhase))
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "size_required",
			body: `{"amount": "100"}`,
			mockSetup: func(svc *MockAuctionService) {
				svc.EXPECT().PlaceBid(gomock.Any(), gomock.Any()).Return(nil, auction.ErrSizeRequired)
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "transient_then_accepted",
			body: `{"amount": "100"}`,
			mockSetup: func(svc *MockAuctionService) {
				gomock.InOrder(
					svc.EXPECT().PlaceBid(gomock.Any(), gomock.Any()).
						Return(nil, fmt.Errorf("lock auction: %w", auction.ErrTransient)),
					svc.EXPECT().PlaceBid(gomock.Any(), gomock.Any()).Return(accepted("100"), nil),
				)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "transient_exhausted",
			body: `{"amount": "100"}`,
			mockSetup: func(svc *MockAuctionService) {
				svc.EXPECT().PlaceBid(gomock.Any(), gomock.Any()).
					Return(nil, fmt.Errorf("lock auction: %w", auction.ErrTransient)).Times(3)
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name: "internal_error_hidden",
			body: `{"amount": "100"}`,
			mockSetup: func(svc *MockAuctionService) {
				svc.EXPECT().PlaceBid(gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("commit: connection reset"))
			},
			expectedStatus: http.StatusInternalServerError,
			validate: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Internal server error", body["error"])
			},
		},
		{
			name:           "non_positive_amount",
			body:           `{"amount": "-5"}`,
			mockSetup:      func(svc *MockAuctionService) {},
			expectedStatus: http.StatusBadRequest,
			validate: func(t *testing.T, body map[string]any) {
				assert.Contains(t, body["error"], "amount")
			},
		},
		{
			name:           "invalid_json",
			body:           `{invalid json}`,
			mockSetup:      func(svc *MockAuctionService) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{RetryAttempts: 2})
			tt.mockSetup(env.svc)

			token := env.bidderToken(t, auctionID, bidderID)
			rr := env.do(t, http.MethodPost, "/auctions/"+auctionID.String()+"/bids", tt.body, token)
			require.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
			if tt.validate != nil {
				tt.validate(t, decodeBody(t, rr))
			}
		})
	}
}

func TestPlaceBid_Auth(t *testing.T) {
	env := newTestEnv(t, Options{})
	auctionID := uuid.New()
	path := "/auctions/" + auctionID.String() + "/bids"
	body := `{"amount": "100"}`

	tests := []struct {
		name           string
		token          string
		expectedStatus int
	}{
		{name: "missing_token", token: "", expectedStatus: http.StatusUnauthorized},
		{name: "garbage_token", token: "not-a-jwt", expectedStatus: http.StatusUnauthorized},
		{name: "operator_token", token: env.operatorToken(t), expectedStatus: http.StatusForbidden},
		{name: "other_auction", token: env.bidderToken(t, uuid.New(), uuid.New()), expectedStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, path, body, tt.token)
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestPlaceBid_RateLimited(t *testing.T) {
	env := newTestEnv(t, Options{RatePerSecond: 0.001, Burst: 1})
	auctionID := uuid.New()
	bidderID := uuid.New()
	token := env.bidderToken(t, auctionID, bidderID)
	path := "/auctions/" + auctionID.String() + "/bids"

	env.svc.EXPECT().PlaceBid(gomock.Any(), gomock.Any()).Return(&models.BidResult{}, nil).Times(1)

	rr := env.do(t, http.MethodPost, path, `{"amount": "100"}`, token)
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(t, http.MethodPost, path, `{"amount": "200"}`, token)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// Another bidder has its own bucket
	env.svc.EXPECT().PlaceBid(gomock.Any(), gomock.Any()).Return(&models.BidResult{}, nil).Times(1)
	rr = env.do(t, http.MethodPost, path, `{"amount": "200"}`, env.bidderToken(t, auctionID, uuid.New()))
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestRegisterBidder(t *testing.T) {
	auctionID := uuid.New()
	valid := registerBidderRequest{Name: "Ada", Phone: "+1 555 010 2000", Email: "ada@example.com", Verified: true}

	tests := []struct {
		name           string
		body           any
		mockSetup      func(svc *MockAuctionService)
		expectedStatus int
	}{
		{
			name: "registered",
			body: valid,
			mockSetup: func(svc *MockAuctionService) {
				svc.EXPECT().RegisterBidder(gomock.Any(), auction.Registration{
					AuctionID: auctionID, Name: "Ada", Phone: "+1 555 010 2000", Email: "ada@example.com", Verified: true,
				}).Return(&models.Bidder{ID: uuid.New(), AuctionID: auctionID, Name: "Ada"}, nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "unverified",
			body: registerBidderRequest{Name: "Ada", Phone: "+15550102000", Email: "ada@example.com"},
			mockSetup: func(svc *MockAuctionService) {
				svc.EXPECT().RegisterBidder(gomock.Any(), gomock.Any()).Return(nil, auction.ErrUnverified)
			},
			expectedStatus: http.StatusForbidden,
		},
		{
			name: "registration_closed",
			body: valid,
			mockSetup: func(svc *MockAuctionService) {
				svc.EXPECT().RegisterBidder(gomock.Any(), gomock.Any()).
					Return(nil, fmt.Errorf("%w: registration closed", auction.ErrInvalidPhase))
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "duplicate",
			body: valid,
			mockSetup: func(svc *MockAuctionService) {
				svc.EXPECT().RegisterBidder(gomock.Any(), gomock.Any()).
					Return(nil, fmt.Errorf("create bidder: %w", auction.ErrConflict))
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "invalid_email",
			body:           registerBidderRequest{Name: "Ada", Phone: "+15550102000", Email: "not-an-email", Verified: true},
			mockSetup:      func(svc *MockAuctionService) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{})
			tt.mockSetup(env.svc)

			rr := env.do(t, http.MethodPost, "/auctions/"+auctionID.String()+"/bidders", tt.body, "")
			require.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())

			if tt.expectedStatus == http.StatusCreated {
				body := decodeBody(t, rr)
				claims, err := env.auth.ParseToken(body["token"].(string))
				require.NoError(t, err)
				assert.Equal(t, auth.RoleBidder, claims.Role)
				assert.Equal(t, auctionID.String(), claims.AuctionID)
			}
		})
	}
}

func TestGetAuction(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := uuid.New()
	name := "Ada"

	env.svc.EXPECT().GetAuction(gomock.Any(), id).Return(&models.AuctionView{
		Auction:           models.Auction{ID: id, Title: "Sneakers", Status: models.StatusEnded},
		Phase:             models.PhaseEnded,
		CurrentHighestBid: decimal.NewNullDecimal(decimal.RequireFromString("250")),
		TotalBids:         4,
		WinnerName:        &name,
		WinningAmount:     decimal.NewNullDecimal(decimal.RequireFromString("250")),
	}, nil)

	rr := env.do(t, http.MethodGet, "/auctions/"+id.String(), nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "ended", body["phase"])
	assert.Equal(t, "Ada", body["winner_name"])
	assert.Equal(t, "250", body["winning_amount"])
	assert.EqualValues(t, 4, body["total_bids"])

	missing := uuid.New()
	env.svc.EXPECT().GetAuction(gomock.Any(), missing).Return(nil, fmt.Errorf("auction %s: %w", missing, auction.ErrNotFound))
	rr = env.do(t, http.MethodGet, "/auctions/"+missing.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/auctions/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReadEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := uuid.New()

	env.svc.EXPECT().ListAuctions(gomock.Any()).Return([]models.AuctionView{{Auction: models.Auction{ID: id}}}, nil)
	env.svc.EXPECT().ListBids(gomock.Any(), id).Return([]models.Bid{{ID: uuid.New()}, {ID: uuid.New()}}, nil)
	env.svc.EXPECT().ListBidders(gomock.Any(), id).Return([]models.BidderStanding{{Bidder: models.Bidder{Name: "Ada"}}}, nil)

	tests := []struct {
		path  string
		count int
	}{
		{path: "/auctions", count: 1},
		{path: "/auctions/" + id.String() + "/bids", count: 2},
		{path: "/auctions/" + id.String() + "/bidders", count: 1},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, tt.path, nil, "")
			require.Equal(t, http.StatusOK, rr.Code)
			var items []map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &items))
			assert.Len(t, items, tt.count)
		})
	}
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{})
	operator := env.operatorToken(t)
	id := uuid.New()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	create := auctionRequest{
		Title:               "Limited sneakers",
		ProductRef:          "SKU-1",
		MinIncrement:        decimal.RequireFromString("50"),
		RegistrationEndTime: start.Add(-time.Hour),
		BiddingStartTime:    start,
		BiddingEndTime:      start.Add(2 * time.Hour),
		AvailableSizes:      []string{"S", "M"},
	}
	badSchedule := create
	badSchedule.BiddingEndTime = start.Add(-time.Minute)

	tests := []struct {
		name           string
		method         string
		path           string
		body           any
		token          string
		mockSetup      func()
		expectedStatus int
	}{
		{
			name: "create_requires_token", method: http.MethodPost, path: "/admin/auctions", body: create,
			mockSetup: func() {}, expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "create_rejects_bidder_token", method: http.MethodPost, path: "/admin/auctions", body: create,
			token: env.bidderToken(t, id, uuid.New()), mockSetup: func() {}, expectedStatus: http.StatusForbidden,
		},
		{
			name: "create", method: http.MethodPost, path: "/admin/auctions", body: create, token: operator,
			mockSetup: func() {
				env.svc.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, in auction.AuctionInput) (*models.Auction, error) {
						assert.Equal(t, "Limited sneakers", in.Title)
						assert.Equal(t, []string{"S", "M"}, in.AvailableSizes)
						assert.False(t, in.BasePrice.Valid)
						return &models.Auction{ID: id, Title: in.Title, Status: models.StatusDraft}, nil
					})
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "create_bad_schedule", method: http.MethodPost, path: "/admin/auctions", body: badSchedule, token: operator,
			mockSetup: func() {}, expectedStatus: http.StatusBadRequest,
		},
		{
			name: "update_terms_frozen", method: http.MethodPut, path: "/admin/auctions/" + id.String(), body: create, token: operator,
			mockSetup: func() {
				env.svc.EXPECT().UpdateAuction(gomock.Any(), id, gomock.Any()).
					Return(nil, fmt.Errorf("%w: bidding terms cannot change once bids exist", auction.ErrConflict))
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "delete", method: http.MethodDelete, path: "/admin/auctions/" + id.String(), token: operator,
			mockSetup: func() {
				env.svc.EXPECT().DeleteAuction(gomock.Any(), id).Return(nil)
			},
			expectedStatus: http.StatusNoContent,
		},
		{
			name: "publish", method: http.MethodPost, path: "/admin/auctions/" + id.String() + "/publish", token: operator,
			mockSetup: func() {
				env.svc.EXPECT().Publish(gomock.Any(), id).Return(&models.Auction{ID: id, Status: models.StatusLive}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "close", method: http.MethodPost, path: "/admin/auctions/" + id.String() + "/close", token: operator,
			mockSetup: func() {
				env.svc.EXPECT().Close(gomock.Any(), id).Return(nil, nil)
			},
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockSetup()
			rr := env.do(t, tt.method, tt.path, tt.body, tt.token)
			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestSubscribe(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := uuid.New()
	missing := uuid.New()

	env.svc.EXPECT().GetAuction(gomock.Any(), missing).Return(nil, auction.ErrNotFound)
	rr := env.do(t, http.MethodGet, "/ws/auctions/"+missing.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Empty(t, env.hub.served)

	env.svc.EXPECT().GetAuction(gomock.Any(), id).Return(&models.AuctionView{}, nil)
	env.do(t, http.MethodGet, "/ws/auctions/"+id.String(), nil, "")
	assert.Equal(t, []uuid.UUID{id}, env.hub.served)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{})
	rr := env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeBody(t, rr)["status"])
}
