package ws

import (
	"sync"
)

// Hub keeps client sets per auctionID. Empty rooms are dropped.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]*room)} }

// Broadcast is called by the Redis subscriber.
func (h *Hub) Broadcast(auctionID string, msg []byte) {
	h.mu.Lock()
	r, ok := h.rooms[auctionID]
	h.mu.Unlock()
	if ok {
		r.broadcast(msg)
	}
}

func (h *Hub) Join(auctionID string, c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[auctionID]
	if !ok {
		r = newRoom()
		h.rooms[auctionID] = r
	}
	r.add(c)
}

func (h *Hub) Leave(auctionID string, c *clientConn) {
	h.mu.Lock()
	r, ok := h.rooms[auctionID]
	if ok && r.remove(c) == 0 {
		delete(h.rooms, auctionID)
	}
	h.mu.Unlock()
	c.close()
}

// Watching reports how many connections are in the auction's room.
func (h *Hub) Watching(auctionID string) int {
	h.mu.Lock()
	r, ok := h.rooms[auctionID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return r.size()
}
