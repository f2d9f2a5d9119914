package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pawnauction/internal/models"
)

// Memory is a concurrency-safe in-memory Store. A single mutex linearizes
// every operation, which gives the same compare-and-set semantics as the
// Postgres implementation.
type Memory struct {
	mu           sync.RWMutex
	auctions     map[string]models.Auction
	bids         map[string][]models.Bid // auctionID -> bids
	items        map[string]models.Item
	users        map[string]models.User
	watchers     map[string][]string // auctionID -> userIDs
	transactions []models.Transaction
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		auctions: make(map[string]models.Auction),
		bids:     make(map[string][]models.Bid),
		items:    make(map[string]models.Item),
		users:    make(map[string]models.User),
		watchers: make(map[string][]string),
	}
}

// PutAuction, PutItem, PutUser and Watch seed data; listing and account
// management live outside the auction core.
func (m *Memory) PutAuction(a models.Auction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[a.ID] = a
}

func (m *Memory) PutItem(it models.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
}

func (m *Memory) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) Watch(auctionID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers[auctionID] = append(m.watchers[auctionID], userID)
}

func (m *Memory) GetAuction(_ context.Context, id string) (models.Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.auctions[id]
	if !ok {
		return models.Auction{}, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (m *Memory) DueForActivation(_ context.Context, now time.Time, limit int) ([]models.Auction, error) {
	return m.selectAuctions(func(a models.Auction) bool {
		return a.Status == models.AuctionScheduled && !a.StartTime.After(now)
	}, limit, 0), nil
}

func (m *Memory) DueForClosure(_ context.Context, now time.Time, limit int) ([]models.Auction, error) {
	return m.selectAuctions(func(a models.Auction) bool {
		return a.Status == models.AuctionActive && !a.EndTime.After(now)
	}, limit, 0), nil
}

func (m *Memory) Unsettled(_ context.Context, now time.Time, limit int) ([]models.Auction, error) {
	return m.selectAuctions(func(a models.Auction) bool {
		return a.Status == models.AuctionEnded && !a.Settled() && leaseLapsed(a, now)
	}, limit, 0), nil
}

func leaseLapsed(a models.Auction, now time.Time) bool {
	return a.SettlingUntil == nil || !a.SettlingUntil.After(now)
}

// ListAuctions orders by end time descending, like the Postgres driver.
func (m *Memory) ListAuctions(_ context.Context, status models.AuctionStatus, limit, offset int) ([]models.Auction, error) {
	out := m.selectAuctions(func(a models.Auction) bool {
		return status == "" || a.Status == status
	}, 0, 0)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EndTime.Equal(out[j].EndTime) {
			return out[i].EndTime.After(out[j].EndTime)
		}
		return out[i].ID < out[j].ID
	})
	if offset >= len(out) {
		return []models.Auction{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) selectAuctions(keep func(models.Auction) bool, limit, offset int) []models.Auction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Auction, 0)
	for _, a := range m.auctions {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndTime.Equal(out[j].EndTime) {
			return out[i].EndTime.Before(out[j].EndTime)
		}
		return out[i].ID < out[j].ID
	})
	if offset >= len(out) {
		return []models.Auction{}
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) TransitionAuction(_ context.Context, id string, from []models.AuctionStatus, to models.AuctionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[id]
	if !ok {
		return false, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	if !containsStatus(from, a.Status) {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	m.auctions[id] = a
	return true, nil
}

func (m *Memory) EndAuction(_ context.Context, id string, at, leaseUntil time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[id]
	if !ok {
		return false, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	if a.Status != models.AuctionActive {
		return false, nil
	}
	a.Status = models.AuctionEnded
	a.EndedAt = &at
	a.SettlingUntil = &leaseUntil
	a.UpdatedAt = at
	m.auctions[id] = a
	return true, nil
}

func (m *Memory) ClaimSettlement(_ context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[id]
	if !ok {
		return false, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	if a.Status != models.AuctionEnded || a.Settled() || !leaseLapsed(a, now) {
		return false, nil
	}
	a.SettlingUntil = &leaseUntil
	m.auctions[id] = a
	return true, nil
}

func (m *Memory) RecordBid(_ context.Context, bid models.Bid, expectedCurrent *decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[bid.AuctionID]
	if !ok {
		return false, fmt.Errorf("auction %s: %w", bid.AuctionID, ErrNotFound)
	}
	if !a.AcceptsBidsAt(bid.CreatedAt) || !sameBid(a.CurrentBid, expectedCurrent) {
		return false, nil
	}
	amount := bid.Amount
	bidder := bid.BidderID
	a.CurrentBid = &amount
	a.CurrentBidderID = &bidder
	a.UpdatedAt = bid.CreatedAt
	m.auctions[a.ID] = a
	m.bids[a.ID] = append(m.bids[a.ID], bid)
	return true, nil
}

func (m *Memory) ListBids(_ context.Context, auctionID string) ([]models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Bid{}, m.bids[auctionID]...), nil
}

func (m *Memory) ListWatchers(_ context.Context, auctionID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.watchers[auctionID]...), nil
}

func (m *Memory) GetItem(_ context.Context, id string) (models.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return models.Item{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return it, nil
}

func (m *Memory) ReturnItem(_ context.Context, r Release) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[r.AuctionID]
	if !ok {
		return false, fmt.Errorf("auction %s: %w", r.AuctionID, ErrNotFound)
	}
	it, ok := m.items[r.ItemID]
	if !ok {
		return false, fmt.Errorf("item %s: %w", r.ItemID, ErrNotFound)
	}
	if a.Settled() || !a.IsTerminal() {
		return false, nil
	}

	m.settle(a, r.Outcome, r.At)
	if it.Status == models.ItemInAuction {
		it.Status = models.ItemValued
		it.UpdatedAt = r.At
		m.items[it.ID] = it
	}
	return true, nil
}

// settle must be called with mu held.
func (m *Memory) settle(a models.Auction, outcome models.SettlementOutcome, at time.Time) {
	a.SettledAt = &at
	a.Outcome = outcome
	a.SettlingUntil = nil
	a.UpdatedAt = at
	m.auctions[a.ID] = a
}

func (m *Memory) GetUser(_ context.Context, id string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

func (m *Memory) ChargeWallet(_ context.Context, c Charge) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[c.AuctionID]
	if !ok {
		return models.Transaction{}, fmt.Errorf("auction %s: %w", c.AuctionID, ErrNotFound)
	}
	if a.Settled() {
		return models.Transaction{}, ErrAlreadySettled
	}
	it, ok := m.items[c.ItemID]
	if !ok {
		return models.Transaction{}, fmt.Errorf("item %s: %w", c.ItemID, ErrNotFound)
	}
	if it.Status != models.ItemInAuction {
		return models.Transaction{}, ErrItemNotInAuction
	}
	u, ok := m.users[c.UserID]
	if !ok {
		return models.Transaction{}, fmt.Errorf("user %s: %w", c.UserID, ErrNotFound)
	}

	tx := models.Transaction{
		ID:        uuid.NewString(),
		UserID:    c.UserID,
		Amount:    c.Amount,
		Type:      models.TransactionAuctionPayment,
		Reference: c.AuctionID,
		CreatedAt: c.At,
	}
	if u.WalletBalance.LessThan(c.Amount) {
		tx.Status = models.TransactionFailed
		m.transactions = append(m.transactions, tx)
		return tx, ErrInsufficientFunds
	}

	tx.Status = models.TransactionCompleted
	u.WalletBalance = u.WalletBalance.Sub(c.Amount)
	m.users[u.ID] = u

	price := c.Amount
	soldAt := c.At
	it.Status = models.ItemSold
	it.SalePrice = &price
	it.SoldAt = &soldAt
	it.UpdatedAt = c.At
	m.items[it.ID] = it
	m.settle(a, models.SettlementSold, c.At)

	m.transactions = append(m.transactions, tx)
	return tx, nil
}

func (m *Memory) ListTransactions(_ context.Context, reference string) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Transaction, 0)
	for _, tx := range m.transactions {
		if tx.Reference == reference {
			out = append(out, tx)
		}
	}
	return out, nil
}
