//go:generate mockgen -package=notify -destination=mock_notify.go -source=notify.go

package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pawnauction/internal/models"
)

// Dispatcher delivers notifications to a user's inbox. Delivery is best
// effort: implementations log failures and never report them to the caller.
type Dispatcher interface {
	Notify(ctx context.Context, n models.Notification)
}

// InboxChannel is the pub/sub channel carrying a user's live notifications.
func InboxChannel(userID string) string {
	return "user:" + userID + ":inbox"
}

// Inbox persists notifications to Postgres and fans them out over Redis.
// Either backend may be nil.
type Inbox struct {
	db  *sql.DB
	rdb *redis.Client
}

var _ Dispatcher = (*Inbox)(nil)

func NewInbox(db *sql.DB, rdb *redis.Client) *Inbox {
	return &Inbox{db: db, rdb: rdb}
}

func (in *Inbox) Notify(ctx context.Context, n models.Notification) {
	log := zap.L().With(zap.String("user_id", n.UserID), zap.String("category", n.Category))

	if in.db != nil {
		const insQ = `
		  INSERT INTO notifications (user_id, title, message, category, link)
		       VALUES ($1, $2, $3, $4, NULLIF($5, ''))`
		if _, err := in.db.ExecContext(ctx, insQ, n.UserID, n.Title, n.Message, n.Category, n.Link); err != nil {
			log.Warn("notify.persist_failed", zap.Error(err))
		}
	}

	if in.rdb != nil {
		payload, err := json.Marshal(n)
		if err != nil {
			log.Warn("notify.encode_failed", zap.Error(err))
			return
		}
		if err := in.rdb.Publish(ctx, InboxChannel(n.UserID), string(payload)).Err(); err != nil {
			log.Warn("notify.publish_failed", zap.Error(err))
		}
	}
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []models.Notification
}

var _ Dispatcher = (*Recorder)(nil)

func (r *Recorder) Notify(_ context.Context, n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// Sent returns a snapshot of the recorded notifications.
func (r *Recorder) Sent() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.sent...)
}

// ByCategory returns the recipients of every notification in category, in send order.
func (r *Recorder) ByCategory(category string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0)
	for _, n := range r.sent {
		if n.Category == category {
			out = append(out, n.UserID)
		}
	}
	return out
}
