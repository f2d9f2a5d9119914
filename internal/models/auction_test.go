package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRankBids(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	bids := []Bid{
		{ID: "b1", BidderID: "u1", Amount: decimal.NewFromInt(40), CreatedAt: t0},
		{ID: "b2", BidderID: "u2", Amount: decimal.NewFromInt(90), CreatedAt: t0.Add(time.Minute)},
		{ID: "b4", BidderID: "u4", Amount: decimal.NewFromInt(60), CreatedAt: t0.Add(3 * time.Minute)},
		{ID: "b3", BidderID: "u3", Amount: decimal.NewFromInt(60), CreatedAt: t0.Add(2 * time.Minute)},
	}

	ranked := RankBids(bids)

	ids := make([]string, 0, len(ranked))
	for _, b := range ranked {
		ids = append(ids, b.ID)
	}
	require.Equal(t, []string{"b2", "b3", "b4", "b1"}, ids)
	require.Equal(t, "b1", bids[0].ID, "input must not be reordered")
}

func TestRankBids_Empty(t *testing.T) {
	require.Empty(t, RankBids(nil))
}

func TestBidders(t *testing.T) {
	bids := []Bid{{BidderID: "u1"}, {BidderID: "u2"}, {BidderID: "u1"}, {BidderID: "u3"}}
	require.Equal(t, []string{"u1", "u2", "u3"}, Bidders(bids))
}

func TestAuction_AcceptsBidsAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	a := Auction{Status: AuctionActive, StartTime: start, EndTime: start.Add(time.Hour)}

	tests := []struct {
		name string
		a    Auction
		now  time.Time
		want bool
	}{
		{name: "at_start", a: a, now: start, want: true},
		{name: "inside", a: a, now: start.Add(30 * time.Minute), want: true},
		{name: "before_start", a: a, now: start.Add(-time.Second), want: false},
		{name: "at_end", a: a, now: start.Add(time.Hour), want: false},
		{name: "scheduled", a: Auction{Status: AuctionScheduled, StartTime: start, EndTime: start.Add(time.Hour)}, now: start.Add(time.Minute), want: false},
		{name: "cancelled", a: Auction{Status: AuctionCancelled, StartTime: start, EndTime: start.Add(time.Hour)}, now: start.Add(time.Minute), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.a.AcceptsBidsAt(tc.now))
		})
	}
}

func TestAuction_Price(t *testing.T) {
	a := Auction{StartPrice: decimal.NewFromInt(100)}
	require.True(t, a.Price().Equal(decimal.NewFromInt(100)))

	cur := decimal.NewFromInt(120)
	a.CurrentBid = &cur
	require.True(t, a.Price().Equal(decimal.NewFromInt(120)))
}

func TestBidders_Empty(t *testing.T) {
	require.Empty(t, Bidders(nil))
}
