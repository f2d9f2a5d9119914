package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"pawnauction/internal/models"
	"pawnauction/internal/notify"
	"pawnauction/internal/services/settlement"
	"pawnauction/internal/store"
)

const defaultBatchSize = 100

// Timer is armed for every auction that goes live so closure can happen
// before the next periodic sweep.
type Timer interface {
	Arm(ctx context.Context, auctionID string, endTime time.Time) error
}

// Guard keeps replicas from running periodic sweeps at the same time.
type Guard interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// Result summarizes one sweep. Errors holds one entry per auction that failed
// to process; the affected auction is left as it was for the next sweep.
type Result struct {
	Activated int
	Ended     int
	Sold      int
	Returned  int
	Recovered int
	Errors    []error
}

func (r Result) Err() error {
	return multierr.Combine(r.Errors...)
}

func (r Result) Empty() bool {
	return r.Activated == 0 && r.Ended == 0 && r.Recovered == 0 && len(r.Errors) == 0
}

type Scheduler struct {
	store      store.Store
	settler    *settlement.Settler
	notifier   notify.Dispatcher
	timer      Timer
	guard      Guard
	batchSize  int
	retryAfter time.Duration
	trigger    chan struct{}
}

type Option func(*Scheduler)

func WithTimer(t Timer) Option {
	return func(s *Scheduler) { s.timer = t }
}

// WithGuard makes Run skip a tick while another replica holds the guard.
// Sweep itself never consults it.
func WithGuard(g Guard) Option {
	return func(s *Scheduler) { s.guard = g }
}

func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithRetryAfter sets the settlement lease taken when an auction ends and
// enables recovery of auctions still unsettled once that lease lapses. Zero
// disables recovery.
func WithRetryAfter(d time.Duration) Option {
	return func(s *Scheduler) { s.retryAfter = d }
}

func New(st store.Store, settler *settlement.Settler, notifier notify.Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     st,
		settler:   settler,
		notifier:  notifier,
		batchSize: defaultBatchSize,
		trigger:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep activates due auctions, ends expired ones and settles those this call
// ended. Concurrent sweeps are safe: every transition is a compare-and-set and
// only the winner acts on it.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) Result {
	var res Result
	s.activate(ctx, now, &res)
	s.close(ctx, now, &res)
	if s.retryAfter > 0 {
		s.recover(ctx, now, &res)
	}
	return res
}

func (s *Scheduler) activate(ctx context.Context, now time.Time, res *Result) {
	due, err := s.store.DueForActivation(ctx, now, s.batchSize)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("list auctions due for activation: %w", err))
		return
	}
	for _, a := range due {
		won, err := s.store.TransitionAuction(ctx, a.ID,
			[]models.AuctionStatus{models.AuctionScheduled}, models.AuctionActive)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("activate %s: %w", a.ID, err))
			continue
		}
		if !won {
			continue
		}
		res.Activated++
		zap.L().Info("scheduler.activated", zap.String("auction_id", a.ID))

		if s.timer != nil {
			if err := s.timer.Arm(ctx, a.ID, a.EndTime); err != nil {
				zap.L().Warn("scheduler.arm_failed", zap.String("auction_id", a.ID), zap.Error(err))
			}
		}
		s.announceStart(ctx, a)
	}
}

func (s *Scheduler) announceStart(ctx context.Context, a models.Auction) {
	watchers, err := s.store.ListWatchers(ctx, a.ID)
	if err != nil {
		zap.L().Warn("scheduler.watchers_failed", zap.String("auction_id", a.ID), zap.Error(err))
		return
	}
	for _, uid := range watchers {
		s.notifier.Notify(ctx, models.Notification{
			UserID:   uid,
			Title:    "Auction started",
			Message:  fmt.Sprintf("Auction %s is open for bids until %s.", a.ID, a.EndTime.Format(time.RFC1123)),
			Category: models.CategoryAuctionStarted,
			Link:     models.AuctionLink(a.ID),
		})
	}
}

func (s *Scheduler) close(ctx context.Context, now time.Time, res *Result) {
	due, err := s.store.DueForClosure(ctx, now, s.batchSize)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("list auctions due for closure: %w", err))
		return
	}
	for _, a := range due {
		won, err := s.store.EndAuction(ctx, a.ID, now, now.Add(s.retryAfter))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("end %s: %w", a.ID, err))
			continue
		}
		if !won {
			continue
		}
		res.Ended++
		a.Status = models.AuctionEnded
		s.settle(ctx, a, now, res, false)
	}
}

func (s *Scheduler) recover(ctx context.Context, now time.Time, res *Result) {
	stuck, err := s.store.Unsettled(ctx, now, s.batchSize)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("list unsettled auctions: %w", err))
		return
	}
	for _, a := range stuck {
		claimed, err := s.store.ClaimSettlement(ctx, a.ID, now, now.Add(s.retryAfter))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("claim %s: %w", a.ID, err))
			continue
		}
		if !claimed {
			continue
		}
		zap.L().Info("scheduler.recovering", zap.String("auction_id", a.ID))
		s.settle(ctx, a, now, res, true)
	}
}

func (s *Scheduler) settle(ctx context.Context, a models.Auction, now time.Time, res *Result, recovery bool) {
	out, err := s.settler.Settle(ctx, a, now)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("settle %s: %w", a.ID, err))
		return
	}
	switch out.Kind {
	case settlement.OutcomeSold:
		res.Sold++
	case settlement.OutcomeReturned:
		res.Returned++
	default:
		return
	}
	if recovery {
		res.Recovered++
	}
}

// Trigger asks Run for an immediate sweep. Requests made while one is already
// pending collapse into it.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run sweeps every interval and on Trigger until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		case <-s.trigger:
		}
		s.runOnce(ctx)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if s.guard != nil {
		release, ok, err := s.guard.TryAcquire(ctx)
		if err != nil {
			zap.L().Warn("scheduler.guard_failed", zap.Error(err))
		}
		if !ok {
			return
		}
		defer release()
	}

	res := s.Sweep(ctx, time.Now().UTC())
	if res.Empty() {
		return
	}
	fields := []zap.Field{
		zap.Int("activated", res.Activated),
		zap.Int("ended", res.Ended),
		zap.Int("sold", res.Sold),
		zap.Int("returned", res.Returned),
		zap.Int("recovered", res.Recovered),
	}
	if err := res.Err(); err != nil {
		zap.L().Error("scheduler.sweep", append(fields, zap.Error(err))...)
		return
	}
	zap.L().Info("scheduler.sweep", fields...)
}
