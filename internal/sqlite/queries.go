package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/auction/internal/models"
)

// querier is satisfied by *sqlx.DB and *sqlx.Tx
type querier interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const auctionColumns = `id, title, product_ref, status, min_increment, base_price,
  registration_end_time, bidding_start_time, bidding_end_time, available_sizes,
  created_at, updated_at`

type ledger struct {
	q querier
}

func (l ledger) bids(ctx context.Context, query string, args ...any) ([]models.Bid, error) {
	var rows []bidRow
	if err := l.q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, wrapErr(err, "failed to read bids")
	}
	bids := make([]models.Bid, 0, len(rows))
	for i := range rows {
		b, err := rows[i].model()
		if err != nil {
			return nil, err
		}
		bids = append(bids, *b)
	}
	return bids, nil
}

// HighestBid ranks in Go since amounts are stored as exact decimal text
func (l ledger) HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	bids, err := l.bids(ctx, `SELECT id, auction_id, bidder_id, amount, size, created_at
		FROM bids WHERE auction_id = ? ORDER BY created_at, id`, auctionID)
	if err != nil {
		return nil, err
	}
	var top *models.Bid
	for i := range bids {
		if bids[i].Outranks(top) {
			top = &bids[i]
		}
	}
	return top, nil
}

func (l ledger) CountBids(ctx context.Context, auctionID uuid.UUID) (int, error) {
	var n int
	if err := l.q.GetContext(ctx, &n, `SELECT COUNT(*) FROM bids WHERE auction_id = ?`, auctionID); err != nil {
		return 0, wrapErr(err, "failed to count bids")
	}
	return n, nil
}

func (l ledger) BidderHighest(ctx context.Context, auctionID, bidderID uuid.UUID) (decimal.NullDecimal, error) {
	var amounts []decimal.Decimal
	err := l.q.SelectContext(ctx, &amounts,
		`SELECT amount FROM bids WHERE auction_id = ? AND bidder_id = ?`, auctionID, bidderID)
	if err != nil {
		return decimal.NullDecimal{}, wrapErr(err, "failed to get bidder highest bid")
	}
	if len(amounts) == 0 {
		return decimal.NullDecimal{}, nil
	}
	return decimal.NewNullDecimal(decimal.Max(amounts[0], amounts[1:]...)), nil
}

func (l ledger) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	return l.bids(ctx, `SELECT id, auction_id, bidder_id, amount, size, created_at
		FROM bids WHERE auction_id = ? ORDER BY created_at DESC, id DESC`, auctionID)
}

func getAuction(ctx context.Context, q querier, id uuid.UUID) (*models.Auction, error) {
	var row auctionRow
	if err := q.GetContext(ctx, &row, `SELECT `+auctionColumns+` FROM auctions WHERE id = ?`, id); err != nil {
		return nil, wrapErr(err, "failed to get auction %s", id)
	}
	return row.model()
}

func getWinner(ctx context.Context, q querier, auctionID uuid.UUID) (*models.Winner, error) {
	var row winnerRow
	err := q.GetContext(ctx, &row,
		`SELECT auction_id, bidder_id, bid_id, winning_amount, declared_at FROM winners WHERE auction_id = ?`, auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err, "failed to get winner")
	}
	return row.model()
}

// sqliteTx implements auction.Tx
type sqliteTx struct {
	ledger
	tx *sqlx.Tx
}

// LockAuction reads the auction. The single connection already excludes
// every other transaction.
func (t *sqliteTx) LockAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return getAuction(ctx, t.tx, id)
}

func (t *sqliteTx) IsRegistered(ctx context.Context, auctionID, bidderID uuid.UUID) (bool, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM bidders WHERE id = ? AND auction_id = ?`, bidderID, auctionID)
	if err != nil {
		return false, wrapErr(err, "failed to check registration")
	}
	return n > 0, nil
}

func (t *sqliteTx) InsertBid(ctx context.Context, bid *models.Bid) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO bids(id, auction_id, bidder_id, amount, size, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.Size, formatTime(bid.CreatedAt))
	if err != nil {
		return wrapErr(err, "failed to insert bid")
	}
	return nil
}

func (t *sqliteTx) SetEndTime(ctx context.Context, auctionID uuid.UUID, end time.Time) error {
	return t.exec(ctx, "failed to set end time",
		`UPDATE auctions SET bidding_end_time = ?, updated_at = ? WHERE id = ?`,
		formatTime(end), formatTime(time.Now()), auctionID)
}

func (t *sqliteTx) SetStatus(ctx context.Context, auctionID uuid.UUID, status models.Status) error {
	return t.exec(ctx, "failed to set status",
		`UPDATE auctions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), auctionID)
}

func (t *sqliteTx) UpsertWinner(ctx context.Context, w *models.Winner) (*models.Winner, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO winners(auction_id, bidder_id, bid_id, winning_amount, declared_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(auction_id) DO NOTHING`,
		w.AuctionID, w.BidderID, w.BidID, w.WinningAmount, formatTime(w.DeclaredAt))
	if err != nil {
		return nil, wrapErr(err, "failed to upsert winner")
	}
	return getWinner(ctx, t.tx, w.AuctionID)
}

func (t *sqliteTx) UpdateAuction(ctx context.Context, a *models.Auction) error {
	sizes, err := encodeSizes(a.AvailableSizes)
	if err != nil {
		return err
	}
	return t.exec(ctx, "failed to update auction", `
		UPDATE auctions SET title = ?, product_ref = ?, min_increment = ?, base_price = ?,
		  registration_end_time = ?, bidding_start_time = ?, bidding_end_time = ?,
		  available_sizes = ?, updated_at = ?
		WHERE id = ?`,
		a.Title, a.ProductRef, a.MinIncrement, a.BasePrice,
		formatTime(a.RegistrationEndTime), formatTime(a.BiddingStartTime), formatTime(a.BiddingEndTime),
		sizes, formatTime(a.UpdatedAt), a.ID)
}

func (t *sqliteTx) DeleteAuction(ctx context.Context, id uuid.UUID) error {
	return t.exec(ctx, "failed to delete auction", `DELETE FROM auctions WHERE id = ?`, id)
}

func (t *sqliteTx) exec(ctx context.Context, msg, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapErr(err, "%s", msg)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapErr(sql.ErrNoRows, "%s", msg)
	}
	return nil
}

func (s *Store) ledger() ledger { return ledger{q: s.db} }

func (s *Store) HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	return s.ledger().HighestBid(ctx, auctionID)
}

func (s *Store) CountBids(ctx context.Context, auctionID uuid.UUID) (int, error) {
	return s.ledger().CountBids(ctx, auctionID)
}

func (s *Store) BidderHighest(ctx context.Context, auctionID, bidderID uuid.UUID) (decimal.NullDecimal, error) {
	return s.ledger().BidderHighest(ctx, auctionID, bidderID)
}

func (s *Store) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	return s.ledger().ListBids(ctx, auctionID)
}

// CreateAuction inserts a new auction
func (s *Store) CreateAuction(ctx context.Context, a *models.Auction) error {
	sizes, err := encodeSizes(a.AvailableSizes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO auctions(`+auctionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.ProductRef, string(a.Status), a.MinIncrement, a.BasePrice,
		formatTime(a.RegistrationEndTime), formatTime(a.BiddingStartTime), formatTime(a.BiddingEndTime),
		sizes, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return wrapErr(err, "failed to create auction")
	}
	return nil
}

// GetAuction retrieves an auction by ID
func (s *Store) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return getAuction(ctx, s.db, id)
}

// ListAuctions returns every auction, soonest ending first
func (s *Store) ListAuctions(ctx context.Context) ([]models.Auction, error) {
	var rows []auctionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+auctionColumns+` FROM auctions ORDER BY bidding_end_time, id`); err != nil {
		return nil, wrapErr(err, "failed to list auctions")
	}
	auctions := make([]models.Auction, 0, len(rows))
	for i := range rows {
		a, err := rows[i].model()
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, *a)
	}
	return auctions, nil
}

// ListDueAuctions returns live auctions whose end time is before now
func (s *Store) ListDueAuctions(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM auctions WHERE status = ? AND bidding_end_time < ? ORDER BY bidding_end_time`,
		string(models.StatusLive), formatTime(now))
	if err != nil {
		return nil, wrapErr(err, "failed to list due auctions")
	}
	return ids, nil
}

// CreateBidder inserts a bidder
func (s *Store) CreateBidder(ctx context.Context, b *models.Bidder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bidders(id, auction_id, name, phone, email, registered_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.AuctionID, b.Name, b.Phone, b.Email, formatTime(b.RegisteredAt))
	if err != nil {
		return wrapErr(err, "failed to create bidder")
	}
	return nil
}

// GetBidder retrieves a bidder by ID
func (s *Store) GetBidder(ctx context.Context, id uuid.UUID) (*models.Bidder, error) {
	var row bidderRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, auction_id, name, phone, email, registered_at FROM bidders WHERE id = ?`, id)
	if err != nil {
		return nil, wrapErr(err, "failed to get bidder %s", id)
	}
	return row.model()
}

// ListBidders returns an auction's bidders in registration order
func (s *Store) ListBidders(ctx context.Context, auctionID uuid.UUID) ([]models.Bidder, error) {
	var rows []bidderRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, auction_id, name, phone, email, registered_at FROM bidders
		WHERE auction_id = ? ORDER BY registered_at, id`, auctionID)
	if err != nil {
		return nil, wrapErr(err, "failed to list bidders")
	}
	bidders := make([]models.Bidder, 0, len(rows))
	for i := range rows {
		b, err := rows[i].model()
		if err != nil {
			return nil, err
		}
		bidders = append(bidders, *b)
	}
	return bidders, nil
}

// GetWinner returns the declared winner, or nil when there is none
func (s *Store) GetWinner(ctx context.Context, auctionID uuid.UUID) (*models.Winner, error) {
	return getWinner(ctx, s.db, auctionID)
}
