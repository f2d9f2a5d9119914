package models

import (
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type AuctionStatus string

const (
	AuctionScheduled AuctionStatus = "SCHEDULED"
	AuctionActive    AuctionStatus = "ACTIVE"
	AuctionEnded     AuctionStatus = "ENDED"
	AuctionCancelled AuctionStatus = "CANCELLED"
)

// SettlementOutcome records how an auction released its hold on the item.
type SettlementOutcome string

const (
	SettlementSold      SettlementOutcome = "SOLD"
	SettlementReturned  SettlementOutcome = "RETURNED"
	SettlementWithdrawn SettlementOutcome = "WITHDRAWN"
)

// Auction is a time-boxed bidding process against one Item.
//
// SettledAt is written exactly once, in the same unit as the item leaving
// IN_AUCTION. SettlingUntil is the lease of the worker currently running the
// waterfall; recovery only takes over once it has lapsed.
type Auction struct {
	ID              string           `json:"id"`
	ItemID          string           `json:"item_id"`
	StartPrice      decimal.Decimal  `json:"start_price"`
	CurrentBid      *decimal.Decimal `json:"current_bid,omitempty"`
	CurrentBidderID *string          `json:"current_bidder_id,omitempty"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         time.Time        `json:"end_time"`
	Status          AuctionStatus    `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`

	EndedAt       *time.Time        `json:"ended_at,omitempty"`
	SettledAt     *time.Time        `json:"settled_at,omitempty"`
	Outcome       SettlementOutcome `json:"outcome,omitempty"`
	SettlingUntil *time.Time        `json:"-"`
}

// Price is the amount the next bid has to beat.
func (a Auction) Price() decimal.Decimal {
	if a.CurrentBid != nil {
		return *a.CurrentBid
	}
	return a.StartPrice
}

// IsTerminal reports whether the auction can no longer change.
func (a Auction) IsTerminal() bool {
	return a.Status == AuctionEnded || a.Status == AuctionCancelled
}

// Settled reports whether the auction already released or sold its item.
func (a Auction) Settled() bool {
	return a.SettledAt != nil
}

// AcceptsBidsAt reports whether a bid placed at now falls inside the live window.
func (a Auction) AcceptsBidsAt(now time.Time) bool {
	return a.Status == AuctionActive && !now.Before(a.StartTime) && now.Before(a.EndTime)
}

// Bid is immutable once recorded.
type Bid struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// RankBids returns a copy of bids ordered by amount descending. Equal amounts
// fall back to the earliest bid, then to the bid ID.
func RankBids(bids []Bid) []Bid {
	ranked := append([]Bid(nil), bids...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].Amount.Cmp(ranked[j].Amount); c != 0 {
			return c > 0
		}
		if !ranked[i].CreatedAt.Equal(ranked[j].CreatedAt) {
			return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked
}

// Bidders returns the distinct bidder IDs of bids in first-seen order.
func Bidders(bids []Bid) []string {
	return lo.Uniq(lo.Map(bids, func(b Bid, _ int) string { return b.BidderID }))
}
