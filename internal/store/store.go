package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pawnauction/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrItemNotInAuction  = errors.New("item is not in auction")
	ErrAlreadySettled    = errors.New("auction already settled")
)

// Charge describes one settlement payment attempt.
type Charge struct {
	UserID    string
	ItemID    string
	AuctionID string
	Amount    decimal.Decimal
	At        time.Time
}

// Release describes handing an unsold item back to inventory on behalf of
// one auction.
type Release struct {
	AuctionID string
	ItemID    string
	Outcome   models.SettlementOutcome
	At        time.Time
}

// Store is the persistence contract of the auction core. Every write that
// races with another worker is a compare-and-set and reports whether it won.
type Store interface {
	GetAuction(ctx context.Context, id string) (models.Auction, error)
	ListAuctions(ctx context.Context, status models.AuctionStatus, limit, offset int) ([]models.Auction, error)
	DueForActivation(ctx context.Context, now time.Time, limit int) ([]models.Auction, error)
	DueForClosure(ctx context.Context, now time.Time, limit int) ([]models.Auction, error)
	// Unsettled lists ENDED auctions without a settlement whose lease is
	// absent or lapsed at now.
	Unsettled(ctx context.Context, now time.Time, limit int) ([]models.Auction, error)

	// TransitionAuction moves the auction to `to` only if its status is one of `from`.
	TransitionAuction(ctx context.Context, id string, from []models.AuctionStatus, to models.AuctionStatus) (bool, error)
	// EndAuction moves an ACTIVE auction to ENDED at `at` and hands the winner
	// the settlement lease until leaseUntil.
	EndAuction(ctx context.Context, id string, at, leaseUntil time.Time) (bool, error)
	// ClaimSettlement takes the lease of an unsettled ENDED auction whose
	// previous lease is absent or lapsed at now.
	ClaimSettlement(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error)

	// RecordBid sets the auction's current bid to bid.Amount and inserts the
	// bid, only if the current bid still equals expectedCurrent (nil meaning
	// no bid yet) and the auction is live at bid.CreatedAt.
	RecordBid(ctx context.Context, bid models.Bid, expectedCurrent *decimal.Decimal) (bool, error)
	ListBids(ctx context.Context, auctionID string) ([]models.Bid, error)
	ListWatchers(ctx context.Context, auctionID string) ([]string, error)

	GetItem(ctx context.Context, id string) (models.Item, error)
	// ReturnItem settles the auction with r.Outcome and returns its IN_AUCTION
	// item to VALUED as one unit. It reports false when the auction was
	// already settled, in which case the item is left alone.
	ReturnItem(ctx context.Context, r Release) (bool, error)

	GetUser(ctx context.Context, id string) (models.User, error)
	// ChargeWallet debits the bidder, writes a COMPLETED ledger entry, marks
	// the item SOLD and settles the auction as one unit. A short balance
	// records a FAILED entry and returns ErrInsufficientFunds. A settled
	// auction returns ErrAlreadySettled and an item outside IN_AUCTION returns
	// ErrItemNotInAuction; neither changes anything.
	ChargeWallet(ctx context.Context, c Charge) (models.Transaction, error)
	ListTransactions(ctx context.Context, reference string) ([]models.Transaction, error)
}

func containsStatus(list []models.AuctionStatus, st models.AuctionStatus) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}

func sameBid(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
