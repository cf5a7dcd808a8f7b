package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/models"
)

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const auctionColumns = `id, title, product_ref, status, min_increment, base_price,
	registration_end_time, bidding_start_time, bidding_end_time, available_sizes,
	created_at, updated_at`

const bidColumns = "id, auction_id, bidder_id, amount, size, created_at"

const bidderColumns = "id, auction_id, name, phone, email, registered_at"

func scanAuction(row scanner) (*models.Auction, error) {
	a := &models.Auction{}
	err := row.Scan(&a.ID, &a.Title, &a.ProductRef, &a.Status, &a.MinIncrement, &a.BasePrice,
		&a.RegistrationEndTime, &a.BiddingStartTime, &a.BiddingEndTime, &a.AvailableSizes,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.RegistrationEndTime = a.RegistrationEndTime.UTC()
	a.BiddingStartTime = a.BiddingStartTime.UTC()
	a.BiddingEndTime = a.BiddingEndTime.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if a.AvailableSizes == nil {
		a.AvailableSizes = []string{}
	}
	return a, nil
}

func scanBid(row scanner) (*models.Bid, error) {
	b := &models.Bid{}
	if err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.Size, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func scanBidder(row scanner) (*models.Bidder, error) {
	b := &models.Bidder{}
	if err := row.Scan(&b.ID, &b.AuctionID, &b.Name, &b.Phone, &b.Email, &b.RegisteredAt); err != nil {
		return nil, err
	}
	b.RegisteredAt = b.RegisteredAt.UTC()
	return b, nil
}

func sizes(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ledger implements auction.Ledger over any querier
type ledger struct {
	q querier
}

func (l ledger) HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	row := l.q.QueryRow(ctx,
		"SELECT "+bidColumns+" FROM bids WHERE auction_id = $1 ORDER BY amount DESC, created_at ASC, id ASC LIMIT 1",
		auctionID)
	bid, err := scanBid(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err, "failed to get highest bid")
	}
	return bid, nil
}

func (l ledger) CountBids(ctx context.Context, auctionID uuid.UUID) (int, error) {
	var n int
	if err := l.q.QueryRow(ctx, "SELECT COUNT(*) FROM bids WHERE auction_id = $1", auctionID).Scan(&n); err != nil {
		return 0, wrapErr(err, "failed to count bids")
	}
	return n, nil
}

func (l ledger) BidderHighest(ctx context.Context, auctionID, bidderID uuid.UUID) (decimal.NullDecimal, error) {
	var high decimal.NullDecimal
	err := l.q.QueryRow(ctx,
		"SELECT MAX(amount) FROM bids WHERE auction_id = $1 AND bidder_id = $2",
		auctionID, bidderID).Scan(&high)
	if err != nil {
		return decimal.NullDecimal{}, wrapErr(err, "failed to get bidder highest bid")
	}
	return high, nil
}

func (l ledger) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	rows, err := l.q.Query(ctx,
		"SELECT "+bidColumns+" FROM bids WHERE auction_id = $1 ORDER BY created_at DESC, id DESC",
		auctionID)
	if err != nil {
		return nil, wrapErr(err, "failed to list bids")
	}
	defer rows.Close()

	bids := []models.Bid{}
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, wrapErr(err, "failed to scan bid")
		}
		bids = append(bids, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err, "failed to list bids")
	}
	return bids, nil
}

// pgTx implements auction.Tx inside a pgx transaction
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) ledger() ledger { return ledger{q: t.tx} }

func (t *pgTx) HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	return t.ledger().HighestBid(ctx, auctionID)
}

func (t *pgTx) CountBids(ctx context.Context, auctionID uuid.UUID) (int, error) {
	return t.ledger().CountBids(ctx, auctionID)
}

func (t *pgTx) BidderHighest(ctx context.Context, auctionID, bidderID uuid.UUID) (decimal.NullDecimal, error) {
	return t.ledger().BidderHighest(ctx, auctionID, bidderID)
}

func (t *pgTx) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	return t.ledger().ListBids(ctx, auctionID)
}

// LockAuction reads the auction row with FOR UPDATE
func (t *pgTx) LockAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	a, err := scanAuction(t.tx.QueryRow(ctx,
		"SELECT "+auctionColumns+" FROM auctions WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, wrapErr(err, "failed to lock auction")
	}
	return a, nil
}

func (t *pgTx) IsRegistered(ctx context.Context, auctionID, bidderID uuid.UUID) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM bidders WHERE id = $1 AND auction_id = $2)",
		bidderID, auctionID).Scan(&ok)
	if err != nil {
		return false, wrapErr(err, "failed to check registration")
	}
	return ok, nil
}

func (t *pgTx) InsertBid(ctx context.Context, bid *models.Bid) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO bids ("+bidColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.Size, bid.CreatedAt)
	if err != nil {
		return wrapErr(err, "failed to insert bid")
	}
	return nil
}

func (t *pgTx) SetEndTime(ctx context.Context, auctionID uuid.UUID, end time.Time) error {
	return t.exec(ctx, "failed to set end time",
		"UPDATE auctions SET bidding_end_time = $2, updated_at = NOW() WHERE id = $1", auctionID, end)
}

func (t *pgTx) SetStatus(ctx context.Context, auctionID uuid.UUID, status models.Status) error {
	return t.exec(ctx, "failed to set status",
		"UPDATE auctions SET status = $2, updated_at = NOW() WHERE id = $1", auctionID, status)
}

func (t *pgTx) UpsertWinner(ctx context.Context, w *models.Winner) (*models.Winner, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO winners (auction_id, bidder_id, bid_id, winning_amount, declared_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (auction_id) DO NOTHING`,
		w.AuctionID, w.BidderID, w.BidID, w.WinningAmount, w.DeclaredAt)
	if err != nil {
		return nil, wrapErr(err, "failed to upsert winner")
	}
	stored, err := getWinner(ctx, t.tx, w.AuctionID)
	if err != nil {
		return nil, wrapErr(err, "failed to read winner")
	}
	return stored, nil
}

func (t *pgTx) UpdateAuction(ctx context.Context, a *models.Auction) error {
	return t.exec(ctx, "failed to update auction", `
		UPDATE auctions SET title = $2, product_ref = $3, min_increment = $4, base_price = $5,
			registration_end_time = $6, bidding_start_time = $7, bidding_end_time = $8,
			available_sizes = $9, updated_at = $10
		WHERE id = $1`,
		a.ID, a.Title, a.ProductRef, a.MinIncrement, a.BasePrice,
		a.RegistrationEndTime, a.BiddingStartTime, a.BiddingEndTime, sizes(a.AvailableSizes), a.UpdatedAt)
}

func (t *pgTx) DeleteAuction(ctx context.Context, id uuid.UUID) error {
	return t.exec(ctx, "failed to delete auction", "DELETE FROM auctions WHERE id = $1", id)
}

// exec runs a single-row write and reports ErrNotFound when nothing matched
func (t *pgTx) exec(ctx context.Context, msg, sql string, args ...any) error {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return wrapErr(err, "%s", msg)
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(pgx.ErrNoRows, "%s", msg)
	}
	return nil
}

func getWinner(ctx context.Context, q querier, auctionID uuid.UUID) (*models.Winner, error) {
	w := &models.Winner{}
	err := q.QueryRow(ctx,
		"SELECT auction_id, bidder_id, bid_id, winning_amount, declared_at FROM winners WHERE auction_id = $1",
		auctionID).Scan(&w.AuctionID, &w.BidderID, &w.BidID, &w.WinningAmount, &w.DeclaredAt)
	if err != nil {
		return nil, err
	}
	w.DeclaredAt = w.DeclaredAt.UTC()
	return w, nil
}

// Store methods on DB

func (db *DB) HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	return ledger{q: db.Pool}.HighestBid(ctx, auctionID)
}

func (db *DB) CountBids(ctx context.Context, auctionID uuid.UUID) (int, error) {
	return ledger{q: db.Pool}.CountBids(ctx, auctionID)
}

func (db *DB) BidderHighest(ctx context.Context, auctionID, bidderID uuid.UUID) (decimal.NullDecimal, error) {
	return ledger{q: db.Pool}.BidderHighest(ctx, auctionID, bidderID)
}

func (db *DB) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	return ledger{q: db.Pool}.ListBids(ctx, auctionID)
}

// CreateAuction inserts a new auction
func (db *DB) CreateAuction(ctx context.Context, a *models.Auction) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO auctions ("+auctionColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)",
		a.ID, a.Title, a.ProductRef, a.Status, a.MinIncrement, a.BasePrice,
		a.RegistrationEndTime, a.BiddingStartTime, a.BiddingEndTime, sizes(a.AvailableSizes),
		a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return wrapErr(err, "failed to create auction")
	}
	return nil
}

// GetAuction retrieves an auction by ID
func (db *DB) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	a, err := scanAuction(db.Pool.QueryRow(ctx, "SELECT "+auctionColumns+" FROM auctions WHERE id = $1", id))
	if err != nil {
		return nil, wrapErr(err, "failed to get auction %s", id)
	}
	return a, nil
}

// ListAuctions returns every auction, soonest ending first
func (db *DB) ListAuctions(ctx context.Context) ([]models.Auction, error) {
	rows, err := db.Pool.Query(ctx, "SELECT "+auctionColumns+" FROM auctions ORDER BY bidding_end_time, id")
	if err != nil {
		return nil, wrapErr(err, "failed to list auctions")
	}
	defer rows.Close()

	auctions := []models.Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, wrapErr(err, "failed to scan auction")
		}
		auctions = append(auctions, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err, "failed to list auctions")
	}
	return auctions, nil
}

// ListDueAuctions returns live auctions whose end time is before now
func (db *DB) ListDueAuctions(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id FROM auctions WHERE status = $1 AND bidding_end_time < $2 ORDER BY bidding_end_time",
		models.StatusLive, now)
	if err != nil {
		return nil, wrapErr(err, "failed to list due auctions")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, wrapErr(err, "failed to scan due auctions")
	}
	return ids, nil
}

// CreateBidder inserts a bidder. Duplicate phone or email for the same
// auction is reported as auction.ErrConflict.
func (db *DB) CreateBidder(ctx context.Context, b *models.Bidder) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO bidders ("+bidderColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		b.ID, b.AuctionID, b.Name, b.Phone, b.Email, b.RegisteredAt)
	if err != nil {
		return wrapErr(err, "failed to create bidder")
	}
	return nil
}

// GetBidder retrieves a bidder by ID
func (db *DB) GetBidder(ctx context.Context, id uuid.UUID) (*models.Bidder, error) {
	b, err := scanBidder(db.Pool.QueryRow(ctx, "SELECT "+bidderColumns+" FROM bidders WHERE id = $1", id))
	if err != nil {
		return nil, wrapErr(err, "failed to get bidder %s", id)
	}
	return b, nil
}

// ListBidders returns an auction's bidders in registration order
func (db *DB) ListBidders(ctx context.Context, auctionID uuid.UUID) ([]models.Bidder, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+bidderColumns+" FROM bidders WHERE auction_id = $1 ORDER BY registered_at, id", auctionID)
	if err != nil {
		return nil, wrapErr(err, "failed to list bidders")
	}
	defer rows.Close()

	bidders := []models.Bidder{}
	for rows.Next() {
		b, err := scanBidder(rows)
		if err != nil {
			return nil, wrapErr(err, "failed to scan bidder")
		}
		bidders = append(bidders, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err, "failed to list bidders")
	}
	return bidders, nil
}

// GetWinner returns the declared winner, or nil when there is none
func (db *DB) GetWinner(ctx context.Context, auctionID uuid.UUID) (*models.Winner, error) {
	w, err := getWinner(ctx, db.Pool, auctionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err, "failed to get winner")
	}
	return w, nil
}

var _ auction.Store = (*DB)(nil)
var _ auction.Tx = (*pgTx)(nil)
