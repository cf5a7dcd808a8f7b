package auction_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/sqlite"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock advances by step on every read so reads under the auction lock
// are strictly ordered.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(e models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(typ string) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store  *sqlite.Store
	svc    *auction.Service
	clock  *fakeClock
	events *recorder
	logs   *test.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return newFixtureWithStore(t, store, store)
}

func newFixtureWithStore(t *testing.T, raw *sqlite.Store, store auction.Store) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{
		store:  raw,
		clock:  &fakeClock{now: epoch, step: time.Microsecond},
		events: &recorder{},
		logs:   hook,
	}
	f.svc = auction.NewService(store, auction.Options{
		ExtensionWindow: 2 * time.Minute,
		Clock:           f.clock.Now,
		Notifier:        f.events,
		Logger:          logger,
	})
	return f
}

// liveAuction stores an auction that is live at epoch: registration closed,
// bidding open for another hour, increment 50, no base price, no sizes.
func (f *fixture) liveAuction(t *testing.T, mutate ...func(a *models.Auction)) *models.Auction {
	t.Helper()
	a := &models.Auction{
		ID:                  uuid.New(),
		Title:               "Air Jordan 1 Retro High",
		ProductRef:          "AJ1-555088",
		Status:              models.StatusLive,
		MinIncrement:        decimal.NewFromInt(50),
		RegistrationEndTime: epoch.Add(-2 * time.Hour),
		BiddingStartTime:    epoch.Add(-time.Hour),
		BiddingEndTime:      epoch.Add(time.Hour),
		AvailableSizes:      []string{},
		CreatedAt:           epoch.Add(-3 * time.Hour),
		UpdatedAt:           epoch.Add(-3 * time.Hour),
	}
	for _, m := range mutate {
		m(a)
	}
	require.NoError(t, f.store.CreateAuction(context.Background(), a))
	return a
}

// openAuction stores a live auction still accepting registrations at epoch
func (f *fixture) openAuction(t *testing.T) *models.Auction {
	t.Helper()
	return f.liveAuction(t, func(a *models.Auction) {
		a.RegistrationEndTime = epoch.Add(time.Hour)
		a.BiddingStartTime = epoch.Add(2 * time.Hour)
		a.BiddingEndTime = epoch.Add(3 * time.Hour)
	})
}

func (f *fixture) bidder(t *testing.T, a *models.Auction, name string) *models.Bidder {
	t.Helper()
	b := &models.Bidder{
		ID:           uuid.New(),
		AuctionID:    a.ID,
		Name:         name,
		Phone:        "+1555" + uuid.NewString()[:8],
		Email:        name + "@example.com",
		RegisteredAt: a.RegistrationEndTime.Add(-time.Minute),
	}
	require.NoError(t, f.store.CreateBidder(context.Background(), b))
	return b
}

func (f *fixture) bid(t *testing.T, a *models.Auction, b *models.Bidder, amount string) *models.BidResult {
	t.Helper()
	res, err := f.svc.PlaceBid(context.Background(), auction.BidRequest{
		AuctionID: a.ID,
		BidderID:  b.ID,
		Amount:    decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return res
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
