package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pawnauction/internal/models"
	"pawnauction/internal/notify"
	"pawnauction/internal/store"
)

type Kind string

const (
	OutcomeSold           Kind = "SOLD"
	OutcomeReturned       Kind = "RETURNED"
	OutcomeAlreadySettled Kind = "ALREADY_SETTLED"
)

// Outcome is the terminal result of one settlement run. Winner is set only
// when the item sold.
type Outcome struct {
	Kind   Kind
	Winner *models.Bid
}

type Settler struct {
	store    store.Store
	notifier notify.Dispatcher
}

func NewSettler(st store.Store, notifier notify.Dispatcher) *Settler {
	return &Settler{store: st, notifier: notifier}
}

var ErrNotEnded = errors.New("auction has not ended")

// Settle walks the ranked bids of an ended auction and charges the highest
// bidder who can pay. It is safe to re-run: once the auction row records a
// settlement every later call is a no-op, and bidders whose charge already
// failed for this auction are not tried again.
//
// A cancelled ctx stops the walk without moving past the current bidder; the
// auction stays unsettled for recovery.
func (s *Settler) Settle(ctx context.Context, a models.Auction, now time.Time) (Outcome, error) {
	log := zap.L().With(zap.String("auction_id", a.ID), zap.String("item_id", a.ItemID))

	a, err := s.store.GetAuction(ctx, a.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load auction: %w", err)
	}
	if a.Settled() {
		return Outcome{Kind: OutcomeAlreadySettled}, nil
	}
	if a.Status != models.AuctionEnded {
		return Outcome{}, fmt.Errorf("%w: %s is %s", ErrNotEnded, a.ID, a.Status)
	}

	bids, err := s.store.ListBids(ctx, a.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load bids for %s: %w", a.ID, err)
	}
	ranked := models.RankBids(bids)
	bidders := models.Bidders(ranked)

	if len(ranked) == 0 {
		released, err := s.release(ctx, a, now)
		if err != nil || !released {
			return Outcome{Kind: OutcomeAlreadySettled}, err
		}
		log.Info("settlement.returned_no_bids")
		return Outcome{Kind: OutcomeReturned}, nil
	}

	declined, err := s.declined(ctx, a.ID)
	if err != nil {
		return Outcome{}, err
	}

	for i := range ranked {
		bid := ranked[i]
		if declined[chargeKey(bid.BidderID, bid.Amount.String())] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Outcome{}, fmt.Errorf("settle %s: %w", a.ID, err)
		}

		_, err := s.store.ChargeWallet(ctx, store.Charge{
			UserID:    bid.BidderID,
			ItemID:    a.ItemID,
			AuctionID: a.ID,
			Amount:    bid.Amount,
			At:        now,
		})
		switch {
		case err == nil:
			log.Info("settlement.sold",
				zap.String("winner_id", bid.BidderID),
				zap.String("price", bid.Amount.String()),
				zap.Int("rank", i))
			s.announceSale(ctx, a, bid, bidders)
			return Outcome{Kind: OutcomeSold, Winner: &bid}, nil
		case errors.Is(err, store.ErrAlreadySettled):
			return Outcome{Kind: OutcomeAlreadySettled}, nil
		case errors.Is(err, store.ErrItemNotInAuction):
			return Outcome{}, fmt.Errorf("settle %s: %w", a.ID, err)
		case errors.Is(err, store.ErrInsufficientFunds):
			log.Info("settlement.insufficient_funds", zap.String("bidder_id", bid.BidderID), zap.Int("rank", i))
		case ctx.Err() != nil:
			return Outcome{}, fmt.Errorf("settle %s: %w", a.ID, ctx.Err())
		default:
			log.Warn("settlement.charge_failed", zap.String("bidder_id", bid.BidderID), zap.Int("rank", i), zap.Error(err))
		}
		s.notifier.Notify(ctx, models.Notification{
			UserID:   bid.BidderID,
			Title:    "Payment failed",
			Message:  fmt.Sprintf("We could not collect %s for your bid on auction %s.", bid.Amount.StringFixed(2), a.ID),
			Category: models.CategoryPaymentFailed,
			Link:     models.AuctionLink(a.ID),
		})
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("settle %s: %w", a.ID, err)
	}
	released, err := s.release(ctx, a, now)
	if err != nil || !released {
		return Outcome{Kind: OutcomeAlreadySettled}, err
	}
	log.Info("settlement.returned_all_failed", zap.Int("bids", len(ranked)))
	for _, uid := range bidders {
		s.notifier.Notify(ctx, models.Notification{
			UserID:   uid,
			Title:    "Auction could not be completed",
			Message:  fmt.Sprintf("No bidder on auction %s could complete payment. The item was returned to inventory.", a.ID),
			Category: models.CategoryAuctionFailed,
			Link:     models.AuctionLink(a.ID),
		})
	}
	return Outcome{Kind: OutcomeReturned}, nil
}

// declined collects the charges an earlier, interrupted run already recorded
// as FAILED.
func (s *Settler) declined(ctx context.Context, auctionID string) (map[string]bool, error) {
	txs, err := s.store.ListTransactions(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("load ledger for %s: %w", auctionID, err)
	}
	out := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.Status == models.TransactionFailed {
			out[chargeKey(tx.UserID, tx.Amount.String())] = true
		}
	}
	return out, nil
}

func chargeKey(userID, amount string) string {
	return userID + "|" + amount
}

// release reports false when the auction was already settled elsewhere.
func (s *Settler) release(ctx context.Context, a models.Auction, now time.Time) (bool, error) {
	ok, err := s.store.ReturnItem(ctx, store.Release{
		AuctionID: a.ID,
		ItemID:    a.ItemID,
		Outcome:   models.SettlementReturned,
		At:        now,
	})
	if err != nil {
		return false, fmt.Errorf("release item %s: %w", a.ItemID, err)
	}
	return ok, nil
}

func (s *Settler) announceSale(ctx context.Context, a models.Auction, winner models.Bid, bidders []string) {
	s.notifier.Notify(ctx, models.Notification{
		UserID:   winner.BidderID,
		Title:    "You won the auction",
		Message:  fmt.Sprintf("You won auction %s at %s.", a.ID, winner.Amount.StringFixed(2)),
		Category: models.CategoryAuctionWon,
		Link:     models.AuctionLink(a.ID),
	})
	for _, uid := range bidders {
		if uid == winner.BidderID {
			continue
		}
		s.notifier.Notify(ctx, models.Notification{
			UserID:   uid,
			Title:    "Auction lost",
			Message:  fmt.Sprintf("Auction %s sold to another bidder.", a.ID),
			Category: models.CategoryAuctionLost,
			Link:     models.AuctionLink(a.ID),
		})
	}
}
