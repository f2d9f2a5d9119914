package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pawnauction/internal/redis/bidfeed"
)

// subscriptionManager keeps exactly one Redis subscription per auction
// channel no matter how many websocket clients share the room.
type subscriptionManager struct {
	rdb  *redis.Client
	hub  *Hub
	mu   sync.Mutex
	subs map[string]*subEntry // auctionID ➜ subscription data
	wg   sync.WaitGroup
}

type subEntry struct {
	refCnt int
	cancel context.CancelFunc
}

func newSubscriptionManager(rdb *redis.Client, hub *Hub) *subscriptionManager {
	return &subscriptionManager{
		rdb:  rdb,
		hub:  hub,
		subs: make(map[string]*subEntry),
	}
}

// Subscribe starts the fan-out for the auction on first use and only bumps
// the ref-counter afterwards. It returns once Redis confirmed the
// subscription.
func (sm *subscriptionManager) Subscribe(auctionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if e, ok := sm.subs[auctionID]; ok {
		e.refCnt++
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ps := sm.rdb.Subscribe(ctx, bidfeed.EventsChannel(auctionID))
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return err
	}
	sm.subs[auctionID] = &subEntry{refCnt: 1, cancel: cancel}

	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		defer ps.Close()
		sm.fanOut(ctx, auctionID, ps.Channel())
	}()
	return nil
}

func (sm *subscriptionManager) fanOut(ctx context.Context, auctionID string, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			wrapped, err := wrapRedisEvent(m.Payload)
			if err != nil {
				zap.L().Warn("ws.wrap_event_failed", zap.String("auction_id", auctionID), zap.Error(err))
				continue
			}
			sm.hub.Broadcast(auctionID, wrapped)
		}
	}
}

// Unsubscribe decrements the ref-counter and tears the Redis subscription
// down when the last client leaves the room.
func (sm *subscriptionManager) Unsubscribe(auctionID string) {
	sm.mu.Lock()
	e, ok := sm.subs[auctionID]
	if !ok {
		sm.mu.Unlock()
		return
	}
	e.refCnt--
	if e.refCnt > 0 {
		sm.mu.Unlock()
		return
	}
	delete(sm.subs, auctionID)
	sm.mu.Unlock()

	e.cancel()
}

// Close stops every fan-out goroutine and waits for them.
func (sm *subscriptionManager) Close() {
	sm.mu.Lock()
	for id, e := range sm.subs {
		e.cancel()
		delete(sm.subs, id)
	}
	sm.mu.Unlock()
	sm.wg.Wait()
}

func (sm *subscriptionManager) active(auctionID string) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if e, ok := sm.subs[auctionID]; ok {
		return e.refCnt
	}
	return 0
}

// wrapRedisEvent turns
//
//	{"event":"bid_accepted","bidder_id":"u1",…}
//
// into
//
//	{"event":"auctions/bid_accepted","body":{"bidder_id":"u1",…}}
func wrapRedisEvent(payload string) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, err
	}

	evt := "unknown"
	if v, ok := raw["event"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			evt = s
		}
		delete(raw, "event")
	}

	body, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: "auctions/" + evt, Body: body})
}
