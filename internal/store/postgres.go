package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pawnauction/internal/models"
)

// Postgres implements Store on top of database/sql with the pgx driver.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const auctionColumns = `id, item_id, start_price, current_bid, current_bidder_id,
	start_time, end_time, status, created_at, updated_at,
	ended_at, settled_at, outcome, settling_until`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (models.Auction, error) {
	var (
		a        models.Auction
		cur      decimal.NullDecimal
		bidder   sql.NullString
		endedAt  sql.NullTime
		settled  sql.NullTime
		outcome  sql.NullString
		settling sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.ItemID, &a.StartPrice, &cur, &bidder,
		&a.StartTime, &a.EndTime, &a.Status, &a.CreatedAt, &a.UpdatedAt,
		&endedAt, &settled, &outcome, &settling); err != nil {
		return models.Auction{}, err
	}
	a.EndedAt = nullTime(endedAt)
	a.SettledAt = nullTime(settled)
	a.SettlingUntil = nullTime(settling)
	a.Outcome = models.SettlementOutcome(outcome.String)
	if cur.Valid {
		a.CurrentBid = &cur.Decimal
	}
	if bidder.Valid {
		a.CurrentBidderID = &bidder.String
	}
	return a, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func (p *Postgres) queryAuctions(ctx context.Context, q string, args ...any) ([]models.Auction, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]models.Auction, 0)
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (p *Postgres) GetAuction(ctx context.Context, id string) (models.Auction, error) {
	const q = `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	a, err := scanAuction(p.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Auction{}, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	return a, err
}

func (p *Postgres) ListAuctions(ctx context.Context, status models.AuctionStatus, limit, offset int) ([]models.Auction, error) {
	if status == "" {
		const q = `SELECT ` + auctionColumns + ` FROM auctions
		            ORDER BY end_time DESC, id LIMIT $1 OFFSET $2`
		return p.queryAuctions(ctx, q, limit, offset)
	}
	const q = `SELECT ` + auctionColumns + ` FROM auctions
	            WHERE status = $1
	            ORDER BY end_time DESC, id LIMIT $2 OFFSET $3`
	return p.queryAuctions(ctx, q, string(status), limit, offset)
}

func (p *Postgres) DueForActivation(ctx context.Context, now time.Time, limit int) ([]models.Auction, error) {
	const q = `SELECT ` + auctionColumns + ` FROM auctions
	            WHERE status = 'SCHEDULED' AND start_time <= $1
	            ORDER BY start_time, id LIMIT $2`
	return p.queryAuctions(ctx, q, now, limit)
}

func (p *Postgres) DueForClosure(ctx context.Context, now time.Time, limit int) ([]models.Auction, error) {
	const q = `SELECT ` + auctionColumns + ` FROM auctions
	            WHERE status = 'ACTIVE' AND end_time <= $1
	            ORDER BY end_time, id LIMIT $2`
	return p.queryAuctions(ctx, q, now, limit)
}

func (p *Postgres) Unsettled(ctx context.Context, now time.Time, limit int) ([]models.Auction, error) {
	const q = `SELECT ` + auctionColumns + ` FROM auctions
	            WHERE status = 'ENDED' AND settled_at IS NULL
	              AND (settling_until IS NULL OR settling_until <= $1)
	            ORDER BY ended_at NULLS FIRST, id LIMIT $2`
	return p.queryAuctions(ctx, q, now, limit)
}

func (p *Postgres) TransitionAuction(ctx context.Context, id string, from []models.AuctionStatus, to models.AuctionStatus) (bool, error) {
	const q = `UPDATE auctions SET status = $1, updated_at = now()
	            WHERE id = $2 AND status = ANY(string_to_array($3, ','))`
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	res, err := p.db.ExecContext(ctx, q, string(to), id, strings.Join(states, ","))
	if err != nil {
		return false, fmt.Errorf("transition auction %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Postgres) EndAuction(ctx context.Context, id string, at, leaseUntil time.Time) (bool, error) {
	const q = `UPDATE auctions
	              SET status = 'ENDED', ended_at = $1, settling_until = $2, updated_at = $1
	            WHERE id = $3 AND status = 'ACTIVE'`
	return p.execCAS(ctx, fmt.Sprintf("end auction %s", id), q, at, leaseUntil, id)
}

func (p *Postgres) ClaimSettlement(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	const q = `UPDATE auctions SET settling_until = $1
	            WHERE id = $2 AND status = 'ENDED' AND settled_at IS NULL
	              AND (settling_until IS NULL OR settling_until <= $3)`
	return p.execCAS(ctx, fmt.Sprintf("claim settlement of %s", id), q, leaseUntil, id, now)
}

func (p *Postgres) execCAS(ctx context.Context, op, q string, args ...any) (bool, error) {
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Postgres) RecordBid(ctx context.Context, bid models.Bid, expectedCurrent *decimal.Decimal) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	expected := decimal.NullDecimal{}
	if expectedCurrent != nil {
		expected = decimal.NewNullDecimal(*expectedCurrent)
	}

	const casQ = `
	  UPDATE auctions
	     SET current_bid = $1, current_bidder_id = $2, updated_at = $3
	   WHERE id = $4
	     AND status = 'ACTIVE'
	     AND start_time <= $3 AND end_time > $3
	     AND current_bid IS NOT DISTINCT FROM $5`
	res, err := tx.ExecContext(ctx, casQ, bid.Amount, bid.BidderID, bid.CreatedAt, bid.AuctionID, expected)
	if err != nil {
		return false, fmt.Errorf("update current bid of %s: %w", bid.AuctionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	const insBid = `
	  INSERT INTO bids (id, auction_id, bidder_id, amount, created_at)
	       VALUES ($1, $2, $3, $4, $5)`
	if _, err = tx.ExecContext(ctx, insBid, bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.CreatedAt); err != nil {
		return false, fmt.Errorf("insert bid %s: %w", bid.ID, err)
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Postgres) ListBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	const q = `SELECT id, auction_id, bidder_id, amount, created_at
	             FROM bids WHERE auction_id = $1
	            ORDER BY amount DESC, created_at, id`
	rows, err := p.db.QueryContext(ctx, q, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]models.Bid, 0)
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

func (p *Postgres) ListWatchers(ctx context.Context, auctionID string) ([]string, error) {
	const q = `SELECT user_id FROM auction_watchlist WHERE auction_id = $1 ORDER BY user_id`
	rows, err := p.db.QueryContext(ctx, q, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) GetItem(ctx context.Context, id string) (models.Item, error) {
	const q = `SELECT id, valuation, status, sale_price, sold_at, updated_at
	             FROM items WHERE id = $1`
	var (
		it     models.Item
		price  decimal.NullDecimal
		soldAt sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, q, id).Scan(&it.ID, &it.Valuation, &it.Status, &price, &soldAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Item{}, err
	}
	if price.Valid {
		it.SalePrice = &price.Decimal
	}
	if soldAt.Valid {
		it.SoldAt = &soldAt.Time
	}
	return it, nil
}

const settleQ = `UPDATE auctions
                     SET settled_at = $1, outcome = $2, settling_until = NULL, updated_at = $1
                   WHERE id = $3 AND settled_at IS NULL`

func (p *Postgres) ReturnItem(ctx context.Context, r Release) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	const returnQ = settleQ + ` AND status IN ('ENDED', 'CANCELLED')`
	res, err := tx.ExecContext(ctx, returnQ, r.At, string(r.Outcome), r.AuctionID)
	if err != nil {
		return false, fmt.Errorf("settle auction %s: %w", r.AuctionID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return false, err
	}

	const releaseQ = `UPDATE items SET status = 'VALUED', updated_at = $1
	                   WHERE id = $2 AND status = 'IN_AUCTION'`
	if _, err = tx.ExecContext(ctx, releaseQ, r.At, r.ItemID); err != nil {
		return false, fmt.Errorf("release item %s: %w", r.ItemID, err)
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (models.User, error) {
	const q = `SELECT id, wallet_balance FROM users WHERE id = $1`
	var u models.User
	err := p.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.WalletBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, err
}

func (p *Postgres) ChargeWallet(ctx context.Context, c Charge) (models.Transaction, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Transaction{}, err
	}
	defer tx.Rollback()

	// Auction row lock first: concurrent settlements of the same auction queue here.
	var settledAt sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT settled_at FROM auctions WHERE id = $1 FOR UPDATE`, c.AuctionID).Scan(&settledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, fmt.Errorf("auction %s: %w", c.AuctionID, ErrNotFound)
	}
	if err != nil {
		return models.Transaction{}, err
	}
	if settledAt.Valid {
		return models.Transaction{}, ErrAlreadySettled
	}

	var itemStatus models.ItemStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM items WHERE id = $1 FOR UPDATE`, c.ItemID).Scan(&itemStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, fmt.Errorf("item %s: %w", c.ItemID, ErrNotFound)
	}
	if err != nil {
		return models.Transaction{}, err
	}
	if itemStatus != models.ItemInAuction {
		return models.Transaction{}, ErrItemNotInAuction
	}

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx, `SELECT wallet_balance FROM users WHERE id = $1 FOR UPDATE`, c.UserID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, fmt.Errorf("user %s: %w", c.UserID, ErrNotFound)
	}
	if err != nil {
		return models.Transaction{}, err
	}

	entry := models.Transaction{
		ID:        uuid.NewString(),
		UserID:    c.UserID,
		Amount:    c.Amount,
		Type:      models.TransactionAuctionPayment,
		Reference: c.AuctionID,
		CreatedAt: c.At,
	}
	const insTx = `
	  INSERT INTO transactions (id, user_id, amount, type, status, reference, created_at)
	       VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if balance.LessThan(c.Amount) {
		entry.Status = models.TransactionFailed
		if _, err = tx.ExecContext(ctx, insTx, entry.ID, entry.UserID, entry.Amount,
			entry.Type, string(entry.Status), entry.Reference, entry.CreatedAt); err != nil {
			return models.Transaction{}, fmt.Errorf("record failed charge: %w", err)
		}
		if err = tx.Commit(); err != nil {
			return models.Transaction{}, err
		}
		return entry, ErrInsufficientFunds
	}

	const debitQ = `UPDATE users SET wallet_balance = wallet_balance - $1
	                 WHERE id = $2 AND wallet_balance >= $1`
	res, err := tx.ExecContext(ctx, debitQ, c.Amount, c.UserID)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("debit wallet %s: %w", c.UserID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return models.Transaction{}, fmt.Errorf("debit wallet %s: %w", c.UserID, ErrInsufficientFunds)
	}

	entry.Status = models.TransactionCompleted
	if _, err = tx.ExecContext(ctx, insTx, entry.ID, entry.UserID, entry.Amount,
		entry.Type, string(entry.Status), entry.Reference, entry.CreatedAt); err != nil {
		return models.Transaction{}, fmt.Errorf("record charge: %w", err)
	}

	const soldQ = `UPDATE items SET status = 'SOLD', sale_price = $1, sold_at = $2, updated_at = $2
	                WHERE id = $3 AND status = 'IN_AUCTION'`
	if _, err = tx.ExecContext(ctx, soldQ, c.Amount, c.At, c.ItemID); err != nil {
		return models.Transaction{}, fmt.Errorf("mark item %s sold: %w", c.ItemID, err)
	}
	if _, err = tx.ExecContext(ctx, settleQ, c.At, string(models.SettlementSold), c.AuctionID); err != nil {
		return models.Transaction{}, fmt.Errorf("settle auction %s: %w", c.AuctionID, err)
	}

	if err = tx.Commit(); err != nil {
		return models.Transaction{}, err
	}
	return entry, nil
}

func (p *Postgres) ListTransactions(ctx context.Context, reference string) ([]models.Transaction, error) {
	const q = `SELECT id, user_id, amount, type, status, reference, created_at
	             FROM transactions WHERE reference = $1 ORDER BY created_at, id`
	rows, err := p.db.QueryContext(ctx, q, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]models.Transaction, 0)
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.Status, &t.Reference, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
