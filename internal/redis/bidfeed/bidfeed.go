package bidfeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"pawnauction/internal/models"
	"pawnauction/internal/redis/redis_scripts"
)

const (
	StreamKey     = "bids_stream"
	DefaultMaxLen = 10000

	EventBidAccepted = "bid_accepted"
)

// EventsChannel is the pub/sub channel carrying live events of one auction.
func EventsChannel(auctionID string) string {
	return "auc:" + auctionID + ":events"
}

// Entry is one accepted bid as recorded on the bid stream.
type Entry struct {
	StreamID     string
	AuctionID    string
	BidID        string
	BidderID     string
	Amount       decimal.Decimal
	CreatedAt    time.Time
	PrevBidderID string
}

// Publisher feeds accepted bids to the stream and the auction channel.
type Publisher struct {
	rdb    redis.Scripter
	maxLen int64
}

func NewPublisher(rdb redis.Scripter, maxLen int64) *Publisher {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Publisher{rdb: rdb, maxLen: maxLen}
}

func (p *Publisher) BidAccepted(ctx context.Context, bid models.Bid, previousBidderID string) error {
	keys := []string{StreamKey, EventsChannel(bid.AuctionID)}
	err := redis_scripts.BidAccepted.Run(ctx, p.rdb, keys,
		bid.AuctionID,
		bid.ID,
		bid.BidderID,
		bid.Amount.String(),
		bid.CreatedAt.UTC().Format(time.RFC3339Nano),
		previousBidderID,
		p.maxLen,
	).Err()
	if err != nil {
		return fmt.Errorf("publish bid %s: %w", bid.ID, err)
	}
	return nil
}

var errMalformed = errors.New("malformed bid stream entry")

// ParseEntry decodes a stream message written by Publisher.
func ParseEntry(msg redis.XMessage) (Entry, error) {
	str := func(k string) string {
		s, _ := msg.Values[k].(string)
		return s
	}
	e := Entry{
		StreamID:     msg.ID,
		AuctionID:    str("auction_id"),
		BidID:        str("bid_id"),
		BidderID:     str("bidder_id"),
		PrevBidderID: str("prev_bidder_id"),
	}
	if e.AuctionID == "" || e.BidderID == "" {
		return Entry{}, fmt.Errorf("%w %s: missing ids", errMalformed, msg.ID)
	}
	amount, err := decimal.NewFromString(str("amount"))
	if err != nil {
		return Entry{}, fmt.Errorf("%w %s: amount: %v", errMalformed, msg.ID, err)
	}
	e.Amount = amount
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, str("created_at")); err != nil {
		return Entry{}, fmt.Errorf("%w %s: created_at: %v", errMalformed, msg.ID, err)
	}
	return e, nil
}
