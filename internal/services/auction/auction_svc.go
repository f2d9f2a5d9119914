package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pawnauction/internal/models"
	"pawnauction/internal/notify"
	"pawnauction/internal/store"
)

var (
	ErrAuctionNotFound       = errors.New("auction not found")
	ErrAuctionNotActive      = errors.New("auction not active")
	ErrInsufficientIncrement = errors.New("bid below min increment")
	ErrStaleAuction          = errors.New("auction price moved before the bid landed")
	ErrInvalidBid            = errors.New("invalid bid")
	ErrAuctionFinished       = errors.New("auction already finished")
)

// Reason codes returned to bidders for rejected bids.
const (
	ReasonStaleAuction          = "stale_auction"
	ReasonInsufficientIncrement = "insufficient_increment"
	ReasonAuctionNotActive      = "auction_not_active"
	ReasonInvalidBid            = "invalid_bid"
)

// Reason maps a PlaceBid rejection to its reason code, or "" for other errors.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrStaleAuction):
		return ReasonStaleAuction
	case errors.Is(err, ErrInsufficientIncrement):
		return ReasonInsufficientIncrement
	case errors.Is(err, ErrAuctionNotActive):
		return ReasonAuctionNotActive
	case errors.Is(err, ErrInvalidBid):
		return ReasonInvalidBid
	}
	return ""
}

// BidObserver is told about every accepted bid together with the bidder it displaced.
type BidObserver interface {
	BidAccepted(ctx context.Context, bid models.Bid, previousBidderID string) error
}

type IAuctionService interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (models.Bid, error)
	CancelAuction(ctx context.Context, auctionID string) error
	GetAuction(ctx context.Context, id string) (models.Auction, error)
	ListAuctions(ctx context.Context, status models.AuctionStatus, limit, offset int) ([]models.Auction, error)
	ListBids(ctx context.Context, auctionID string) ([]models.Bid, error)
}

type auctionService struct {
	store        store.Store
	notifier     notify.Dispatcher
	observer     BidObserver
	minIncrement decimal.Decimal
	now          func() time.Time
}

var _ IAuctionService = (*auctionService)(nil)

type Option func(*auctionService)

func WithBidObserver(o BidObserver) Option {
	return func(svc *auctionService) { svc.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(svc *auctionService) { svc.now = now }
}

func NewAuctionService(st store.Store, notifier notify.Dispatcher, minInc decimal.Decimal, opts ...Option) IAuctionService {
	svc := &auctionService{
		store:        st,
		notifier:     notifier,
		minIncrement: minInc,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// PlaceBid validates the bid against a snapshot of the auction and writes it
// with a compare-and-set on that snapshot's current bid. A lost race is
// re-validated against the fresh price and retried exactly once.
func (svc *auctionService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (models.Bid, error) {
	if auctionID == "" || bidderID == "" {
		return models.Bid{}, fmt.Errorf("%w: missing auction or bidder id", ErrInvalidBid)
	}
	if !amount.IsPositive() {
		return models.Bid{}, fmt.Errorf("%w: non-positive amount", ErrInvalidBid)
	}

	for attempt := 0; attempt < 2; attempt++ {
		a, err := svc.GetAuction(ctx, auctionID)
		if err != nil {
			return models.Bid{}, err
		}
		now := svc.now()
		if err := svc.validate(a, amount, now); err != nil {
			if attempt > 0 && errors.Is(err, ErrInsufficientIncrement) {
				return models.Bid{}, fmt.Errorf("%w: price is now %s", ErrStaleAuction, a.Price().StringFixed(2))
			}
			return models.Bid{}, err
		}

		bid := models.Bid{
			ID:        uuid.NewString(),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: now,
		}
		ok, err := svc.store.RecordBid(ctx, bid, a.CurrentBid)
		if err != nil {
			return models.Bid{}, fmt.Errorf("record bid on %s: %w", auctionID, err)
		}
		if ok {
			svc.observe(ctx, bid, a.CurrentBidderID)
			return bid, nil
		}
		zap.L().Debug("auction.bid_conflict",
			zap.String("auction_id", auctionID),
			zap.String("bidder_id", bidderID),
			zap.Int("attempt", attempt))
	}
	return models.Bid{}, ErrStaleAuction
}

func (svc *auctionService) validate(a models.Auction, amount decimal.Decimal, now time.Time) error {
	if !a.AcceptsBidsAt(now) {
		return fmt.Errorf("%w: status %s", ErrAuctionNotActive, a.Status)
	}
	minimum := decimal.Max(a.StartPrice, a.Price()).Add(svc.minIncrement)
	if amount.LessThan(minimum) {
		return fmt.Errorf("%w: minimum is %s", ErrInsufficientIncrement, minimum.StringFixed(2))
	}
	return nil
}

func (svc *auctionService) observe(ctx context.Context, bid models.Bid, previous *string) {
	if svc.observer == nil {
		return
	}
	prev := ""
	if previous != nil {
		prev = *previous
	}
	if err := svc.observer.BidAccepted(ctx, bid, prev); err != nil {
		zap.L().Warn("auction.observer_failed", zap.String("auction_id", bid.AuctionID), zap.Error(err))
	}
}

// CancelAuction is the administrative stop. Cancelling twice is not an error:
// a repeat only finishes an earlier cancel that could not release the item,
// and never touches the item once this auction has let go of it.
func (svc *auctionService) CancelAuction(ctx context.Context, auctionID string) error {
	a, err := svc.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if a.Status == models.AuctionEnded {
		return ErrAuctionFinished
	}

	won := false
	if a.Status != models.AuctionCancelled {
		won, err = svc.store.TransitionAuction(ctx, auctionID,
			[]models.AuctionStatus{models.AuctionScheduled, models.AuctionActive}, models.AuctionCancelled)
		if err != nil {
			return err
		}
		if !won {
			if a, err = svc.GetAuction(ctx, auctionID); err != nil {
				return err
			}
			if a.Status != models.AuctionCancelled {
				return ErrAuctionFinished
			}
		}
	}

	if _, err := svc.store.ReturnItem(ctx, store.Release{
		AuctionID: auctionID,
		ItemID:    a.ItemID,
		Outcome:   models.SettlementWithdrawn,
		At:        svc.now().UTC(),
	}); err != nil {
		return fmt.Errorf("release item %s: %w", a.ItemID, err)
	}
	if !won {
		return nil
	}

	zap.L().Info("auction.cancelled", zap.String("auction_id", auctionID))
	bids, err := svc.store.ListBids(ctx, auctionID)
	if err != nil {
		zap.L().Warn("auction.cancel_notify_failed", zap.String("auction_id", auctionID), zap.Error(err))
		return nil
	}
	for _, uid := range models.Bidders(bids) {
		svc.notifier.Notify(ctx, models.Notification{
			UserID:   uid,
			Title:    "Auction cancelled",
			Message:  fmt.Sprintf("Auction %s was cancelled and no payment will be taken.", auctionID),
			Category: models.CategoryAuctionCancelled,
			Link:     models.AuctionLink(auctionID),
		})
	}
	return nil
}

func (svc *auctionService) GetAuction(ctx context.Context, id string) (models.Auction, error) {
	a, err := svc.store.GetAuction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Auction{}, fmt.Errorf("%w: %s", ErrAuctionNotFound, id)
	}
	return a, err
}

func (svc *auctionService) ListAuctions(ctx context.Context, st models.AuctionStatus, limit, offset int) ([]models.Auction, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return svc.store.ListAuctions(ctx, st, limit, offset)
}

func (svc *auctionService) ListBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if _, err := svc.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	bids, err := svc.store.ListBids(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return models.RankBids(bids), nil
}
