package outbid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pawnauction/internal/models"
	"pawnauction/internal/notify"
	"pawnauction/internal/redis/bidfeed"
)

// Group is the consumer group shared by every replica. Each stream entry is
// delivered to exactly one member.
const Group = "outbid"

// Consumer tails the bid stream and tells displaced top bidders they were
// outbid. Entries are acknowledged once handled; whatever this consumer read
// but never acknowledged is replayed on the next Run.
type Consumer struct {
	rdc      *redis.Client
	notifier notify.Dispatcher
	name     string
	block    time.Duration
}

// New returns a consumer registered in Group under name, which must be
// unique per process.
func New(rdc *redis.Client, notifier notify.Dispatcher, name string) *Consumer {
	return &Consumer{rdc: rdc, notifier: notifier, name: name, block: 2000 * time.Millisecond}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		err := c.ensureGroup(ctx)
		if err == nil {
			break
		}
		zap.L().Warn("outbid.group_create", zap.Error(err))
		if !c.pause(ctx) {
			return
		}
	}

	c.drainPending(ctx)

	for ctx.Err() == nil {
		if _, err := c.consume(ctx, ">"); err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.L().Warn("outbid.xreadgroup", zap.Error(err))
			if isNoGroup(err) {
				if err := c.ensureGroup(ctx); err != nil {
					zap.L().Warn("outbid.group_create", zap.Error(err))
				}
			}
			if !c.pause(ctx) {
				return
			}
		}
	}
}

// ensureGroup creates Group at the stream tail. Entries written before the
// group existed are never delivered.
func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdc.XGroupCreateMkStream(ctx, bidfeed.StreamKey, Group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", Group, err)
	}
	return nil
}

// drainPending replays entries delivered to this consumer before a restart.
func (c *Consumer) drainPending(ctx context.Context) {
	start := "0"
	for ctx.Err() == nil {
		last, err := c.consume(ctx, start)
		if err != nil {
			zap.L().Warn("outbid.pending", zap.Error(err))
			return
		}
		if last == "" {
			return
		}
		start = last
	}
}

// consume handles one batch read after id and returns the last entry ID, or
// "" when there was nothing to read.
func (c *Consumer) consume(ctx context.Context, id string) (string, error) {
	msgs, err := c.read(ctx, id)
	if err != nil || len(msgs) == 0 {
		return "", err
	}
	c.handle(ctx, msgs)
	return msgs[len(msgs)-1].ID, nil
}

func (c *Consumer) read(ctx context.Context, id string) ([]redis.XMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    Group,
		Consumer: c.name,
		Streams:  []string{bidfeed.StreamKey, id},
		Count:    100,
		Block:    -1,
	}
	if id == ">" {
		// block up to 2 s for new entries
		args.Block = c.block
	}
	res, err := c.rdc.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	return res[0].Messages, nil
}

func (c *Consumer) handle(ctx context.Context, msgs []redis.XMessage) {
	c.process(ctx, msgs)
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := c.rdc.XAck(ctx, bidfeed.StreamKey, Group, ids...).Err(); err != nil {
		zap.L().Warn("outbid.xack", zap.Int("entries", len(ids)), zap.Error(err))
	}
}

func (c *Consumer) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Second):
		return true
	}
}

func isNoGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "NOGROUP")
}

func (c *Consumer) process(ctx context.Context, msgs []redis.XMessage) {
	for _, m := range msgs {
		e, err := bidfeed.ParseEntry(m)
		if err != nil {
			zap.L().Warn("outbid.skip_entry", zap.Error(err))
			continue
		}
		if e.PrevBidderID == "" || e.PrevBidderID == e.BidderID {
			continue
		}
		c.notifier.Notify(ctx, models.Notification{
			UserID:   e.PrevBidderID,
			Title:    "You have been outbid",
			Message:  fmt.Sprintf("A bid of %s was placed on auction %s.", e.Amount.StringFixed(2), e.AuctionID),
			Category: models.CategoryOutbid,
			Link:     models.AuctionLink(e.AuctionID),
		})
	}
}
