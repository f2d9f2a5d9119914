package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// clientConn serializes writes to one websocket; gorilla allows a single
// concurrent writer.
type clientConn struct {
	rawConn *websocket.Conn
	userID  string
	mu      sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func newClientConn(raw *websocket.Conn, userID string) *clientConn {
	return &clientConn{rawConn: raw, userID: userID, done: make(chan struct{})}
}

func (c *clientConn) write(mt int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(mt, data)
}

func (c *clientConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteJSON(v)
}

func (c *clientConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.rawConn.Close()
	})
}
