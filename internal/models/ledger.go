package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ItemStatus string

// Items move through other lifecycle states outside the auction core; only
// the ones touched here are named.
const (
	ItemValued    ItemStatus = "VALUED"
	ItemInAuction ItemStatus = "IN_AUCTION"
	ItemSold      ItemStatus = "SOLD"
)

type Item struct {
	ID        string           `json:"id"`
	Valuation decimal.Decimal  `json:"valuation"`
	Status    ItemStatus       `json:"status"`
	SalePrice *decimal.Decimal `json:"sale_price,omitempty"`
	SoldAt    *time.Time       `json:"sold_at,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type User struct {
	ID            string          `json:"id"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
)

const TransactionAuctionPayment = "AUCTION_PAYMENT"

// Transaction is a wallet ledger entry. Reference carries the auction ID.
type Transaction struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Amount    decimal.Decimal   `json:"amount"`
	Type      string            `json:"type"`
	Status    TransactionStatus `json:"status"`
	Reference string            `json:"reference"`
	CreatedAt time.Time         `json:"created_at"`
}

const (
	CategoryAuctionStarted   = "auction_started"
	CategoryAuctionWon       = "auction_won"
	CategoryAuctionLost      = "auction_lost"
	CategoryAuctionFailed    = "auction_failed"
	CategoryAuctionCancelled = "auction_cancelled"
	CategoryPaymentFailed    = "payment_failed"
	CategoryOutbid           = "outbid"
)

type Notification struct {
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Link     string `json:"link,omitempty"`
}

// AuctionLink is the deep link attached to auction notifications.
func AuctionLink(auctionID string) string {
	return "/auctions/" + auctionID
}
