package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pawnauction/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedActive(m *Memory) {
	m.PutItem(models.Item{ID: "item1", Valuation: decimal.NewFromInt(500), Status: models.ItemInAuction})
	m.PutAuction(models.Auction{
		ID:         "auc1",
		ItemID:     "item1",
		StartPrice: decimal.NewFromInt(100),
		StartTime:  t0,
		EndTime:    t0.Add(time.Hour),
		Status:     models.AuctionActive,
	})
}

func TestMemory_TransitionAuction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedActive(m)

	ok, err := m.TransitionAuction(ctx, "auc1", []models.AuctionStatus{models.AuctionScheduled}, models.AuctionActive)
	require.NoError(t, err)
	require.False(t, ok, "status is ACTIVE, not SCHEDULED")

	ok, err = m.TransitionAuction(ctx, "auc1", []models.AuctionStatus{models.AuctionActive}, models.AuctionEnded)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.TransitionAuction(ctx, "auc1", []models.AuctionStatus{models.AuctionActive}, models.AuctionEnded)
	require.NoError(t, err)
	require.False(t, ok, "second transition must lose")

	_, err = m.TransitionAuction(ctx, "missing", []models.AuctionStatus{models.AuctionActive}, models.AuctionEnded)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_TransitionAuction_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedActive(m)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.TransitionAuction(ctx, "auc1", []models.AuctionStatus{models.AuctionActive}, models.AuctionEnded)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestMemory_RecordBid(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedActive(m)

	bid := models.Bid{ID: "b1", AuctionID: "auc1", BidderID: "u1", Amount: decimal.NewFromInt(102), CreatedAt: t0.Add(time.Minute)}
	ok, err := m.RecordBid(ctx, bid, nil)
	require.NoError(t, err)
	require.True(t, ok)

	// stale snapshot: caller still believes there is no current bid
	stale := models.Bid{ID: "b2", AuctionID: "auc1", BidderID: "u2", Amount: decimal.NewFromInt(110), CreatedAt: t0.Add(2 * time.Minute)}
	ok, err = m.RecordBid(ctx, stale, nil)
	require.NoError(t, err)
	require.False(t, ok)

	cur := decimal.NewFromInt(102)
	ok, err = m.RecordBid(ctx, stale, &cur)
	require.NoError(t, err)
	require.True(t, ok)

	late := models.Bid{ID: "b3", AuctionID: "auc1", BidderID: "u3", Amount: decimal.NewFromInt(200), CreatedAt: t0.Add(time.Hour)}
	next := decimal.NewFromInt(110)
	ok, err = m.RecordBid(ctx, late, &next)
	require.NoError(t, err)
	require.False(t, ok, "bid at end time is outside the window")

	a, err := m.GetAuction(ctx, "auc1")
	require.NoError(t, err)
	require.True(t, a.CurrentBid.Equal(decimal.NewFromInt(110)))
	require.Equal(t, "u2", *a.CurrentBidderID)

	bids, err := m.ListBids(ctx, "auc1")
	require.NoError(t, err)
	require.Len(t, bids, 2)
}

func TestMemory_RecordBid_ConcurrentSameSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedActive(m)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bid := models.Bid{
				ID:        fmt.Sprintf("b%d", i),
				AuctionID: "auc1",
				BidderID:  fmt.Sprintf("u%d", i),
				Amount:    decimal.NewFromInt(int64(102 + i)),
				CreatedAt: t0.Add(time.Minute),
			}
			ok, err := m.RecordBid(ctx, bid, nil)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, wins, "only one writer may win against the same snapshot")
}

func TestMemory_ChargeWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		m := NewMemory()
		seedActive(m)
		m.PutUser(models.User{ID: "u1", WalletBalance: decimal.NewFromInt(150)})

		tx, err := m.ChargeWallet(ctx, Charge{UserID: "u1", ItemID: "item1", AuctionID: "auc1", Amount: decimal.NewFromInt(120), At: t0})
		require.NoError(t, err)
		require.Equal(t, models.TransactionCompleted, tx.Status)
		require.Equal(t, "auc1", tx.Reference)

		u, _ := m.GetUser(ctx, "u1")
		require.True(t, u.WalletBalance.Equal(decimal.NewFromInt(30)))

		it, _ := m.GetItem(ctx, "item1")
		require.Equal(t, models.ItemSold, it.Status)
		require.True(t, it.SalePrice.Equal(decimal.NewFromInt(120)))
		require.Equal(t, t0, *it.SoldAt)

		a, _ := m.GetAuction(ctx, "auc1")
		require.Equal(t, models.SettlementSold, a.Outcome)
		require.Equal(t, t0, *a.SettledAt)

		// a second charge against the settled auction changes nothing
		_, err = m.ChargeWallet(ctx, Charge{UserID: "u1", ItemID: "item1", AuctionID: "auc1", Amount: decimal.NewFromInt(10), At: t0})
		require.ErrorIs(t, err, ErrAlreadySettled)
		u, _ = m.GetUser(ctx, "u1")
		require.True(t, u.WalletBalance.Equal(decimal.NewFromInt(30)))
		txs, _ := m.ListTransactions(ctx, "auc1")
		require.Len(t, txs, 1)
	})

	t.Run("item_not_in_auction", func(t *testing.T) {
		m := NewMemory()
		seedActive(m)
		m.PutItem(models.Item{ID: "item1", Status: models.ItemValued})
		m.PutUser(models.User{ID: "u1", WalletBalance: decimal.NewFromInt(150)})

		_, err := m.ChargeWallet(ctx, Charge{UserID: "u1", ItemID: "item1", AuctionID: "auc1", Amount: decimal.NewFromInt(120), At: t0})
		require.ErrorIs(t, err, ErrItemNotInAuction)
		a, _ := m.GetAuction(ctx, "auc1")
		require.False(t, a.Settled())
	})

	t.Run("insufficient_funds", func(t *testing.T) {
		m := NewMemory()
		seedActive(m)
		m.PutUser(models.User{ID: "u1", WalletBalance: decimal.NewFromInt(5)})

		tx, err := m.ChargeWallet(ctx, Charge{UserID: "u1", ItemID: "item1", AuctionID: "auc1", Amount: decimal.NewFromInt(90), At: t0})
		require.True(t, errors.Is(err, ErrInsufficientFunds))
		require.Equal(t, models.TransactionFailed, tx.Status)

		u, _ := m.GetUser(ctx, "u1")
		require.True(t, u.WalletBalance.Equal(decimal.NewFromInt(5)))
		it, _ := m.GetItem(ctx, "item1")
		require.Equal(t, models.ItemInAuction, it.Status)

		txs, _ := m.ListTransactions(ctx, "auc1")
		require.Len(t, txs, 1)
	})

	t.Run("unknown_user", func(t *testing.T) {
		m := NewMemory()
		seedActive(m)
		_, err := m.ChargeWallet(ctx, Charge{UserID: "ghost", ItemID: "item1", AuctionID: "auc1", Amount: decimal.NewFromInt(1), At: t0})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemory_Queries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	settled := t0.Add(-30 * time.Minute)
	lapsed := t0.Add(-time.Minute)
	leased := t0.Add(time.Minute)
	m.PutItem(models.Item{ID: "i1", Status: models.ItemInAuction})
	m.PutItem(models.Item{ID: "i2", Status: models.ItemInAuction})
	m.PutItem(models.Item{ID: "i3", Status: models.ItemSold})
	m.PutAuction(models.Auction{ID: "sched", ItemID: "i1", StartTime: t0, EndTime: t0.Add(time.Hour), Status: models.AuctionScheduled})
	m.PutAuction(models.Auction{ID: "future", ItemID: "i1", StartTime: t0.Add(time.Hour), EndTime: t0.Add(2 * time.Hour), Status: models.AuctionScheduled})
	m.PutAuction(models.Auction{ID: "due", ItemID: "i2", StartTime: t0.Add(-time.Hour), EndTime: t0, Status: models.AuctionActive})
	m.PutAuction(models.Auction{ID: "stuck", ItemID: "i2", StartTime: t0.Add(-2 * time.Hour), EndTime: t0.Add(-time.Hour),
		Status: models.AuctionEnded, SettlingUntil: &lapsed})
	m.PutAuction(models.Auction{ID: "settling", ItemID: "i2", StartTime: t0.Add(-2 * time.Hour), EndTime: t0.Add(-time.Hour),
		Status: models.AuctionEnded, SettlingUntil: &leased})
	m.PutAuction(models.Auction{ID: "done", ItemID: "i3", StartTime: t0.Add(-2 * time.Hour), EndTime: t0.Add(-time.Hour),
		Status: models.AuctionEnded, SettledAt: &settled, Outcome: models.SettlementSold})

	due, err := m.DueForActivation(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "sched", due[0].ID)

	closing, err := m.DueForClosure(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, closing, 1)
	require.Equal(t, "due", closing[0].ID)

	unsettled, err := m.Unsettled(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	require.Equal(t, "stuck", unsettled[0].ID)

	all, err := m.ListAuctions(ctx, "", 2, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, []string{"future", "sched"}, []string{all[0].ID, all[1].ID}, "latest end time first")

	ended, err := m.ListAuctions(ctx, models.AuctionEnded, 10, 0)
	require.NoError(t, err)
	require.Len(t, ended, 3)

	none, err := m.ListAuctions(ctx, "", 10, 50)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestMemory_EndAndClaim(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedActive(m)
	lease := t0.Add(5 * time.Minute)

	ok, err := m.ClaimSettlement(ctx, "auc1", t0, lease)
	require.NoError(t, err)
	require.False(t, ok, "an ACTIVE auction cannot be claimed")

	ok, err = m.EndAuction(ctx, "auc1", t0, lease)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = m.EndAuction(ctx, "auc1", t0, lease)
	require.NoError(t, err)
	require.False(t, ok)

	a, _ := m.GetAuction(ctx, "auc1")
	require.Equal(t, models.AuctionEnded, a.Status)
	require.Equal(t, t0, *a.EndedAt)
	require.Equal(t, lease, *a.SettlingUntil)

	ok, err = m.ClaimSettlement(ctx, "auc1", t0.Add(time.Minute), t0.Add(10*time.Minute))
	require.NoError(t, err)
	require.False(t, ok, "lease still held")

	ok, err = m.ClaimSettlement(ctx, "auc1", lease, lease.Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = m.ClaimSettlement(ctx, "auc1", lease, lease.Add(5*time.Minute))
	require.NoError(t, err)
	require.False(t, ok, "only one claimant per lapse")

	_, err = m.ClaimSettlement(ctx, "missing", t0, lease)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ReturnItem(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedActive(m)
	r := Release{AuctionID: "auc1", ItemID: "item1", Outcome: models.SettlementReturned, At: t0}

	ok, err := m.ReturnItem(ctx, r)
	require.NoError(t, err)
	require.False(t, ok, "a live auction keeps its item")

	_, err = m.EndAuction(ctx, "auc1", t0, t0)
	require.NoError(t, err)
	ok, err = m.ReturnItem(ctx, r)
	require.NoError(t, err)
	require.True(t, ok)

	it, _ := m.GetItem(ctx, "item1")
	require.Equal(t, models.ItemValued, it.Status)
	a, _ := m.GetAuction(ctx, "auc1")
	require.Equal(t, models.SettlementReturned, a.Outcome)
	require.Nil(t, a.SettlingUntil)

	// the item goes back on sale under a new auction
	m.PutItem(models.Item{ID: "item1", Status: models.ItemInAuction})
	m.PutAuction(models.Auction{ID: "auc2", ItemID: "item1", StartTime: t0, EndTime: t0.Add(time.Hour), Status: models.AuctionActive})

	ok, err = m.ReturnItem(ctx, r)
	require.NoError(t, err)
	require.False(t, ok)
	it, _ = m.GetItem(ctx, "item1")
	require.Equal(t, models.ItemInAuction, it.Status, "a settled auction never touches the item again")

	_, err = m.ReturnItem(ctx, Release{AuctionID: "missing", ItemID: "item1"})
	require.ErrorIs(t, err, ErrNotFound)
}
