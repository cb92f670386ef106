package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manuelkasper/sotlas-api/wire"
)

// client holds the per-connection state of one websocket subscriber
type client struct {
	id          string
	conn        *websocket.Conn
	connectedAt time.Time

	// writeMutex protects concurrent writes to the same connection
	writeMutex sync.Mutex

	// alive is cleared before each ping and set by the pong handler. A client
	// that misses a full ping interval is terminated.
	alive atomic.Bool

	closed    atomic.Bool
	closeOnce sync.Once

	filterMu sync.RWMutex
	filter   *wire.RBNFilter
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		id:          uuid.NewString(),
		conn:        conn,
		connectedAt: time.Now(),
	}
	c.alive.Store(true)
	conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	return c
}

// setFilter replaces the client's stream filter
func (c *client) setFilter(f *wire.RBNFilter) {
	c.filterMu.Lock()
	c.filter = f
	c.filterMu.Unlock()
}

// getFilter returns the client's current stream filter
func (c *client) getFilter() *wire.RBNFilter {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return c.filter
}

// send writes raw bytes to the connection under the write lock
func (c *client) send(data []byte, deadline time.Duration) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// sendJSON marshals and writes a message to the connection
func (c *client) sendJSON(msg wire.Message, deadline time.Duration) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	return len(data), c.send(data, deadline)
}

// ping writes a ping control frame under the write lock
func (c *client) ping(deadline time.Duration) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(deadline))
}

// close terminates the connection. Safe to call more than once.
func (c *client) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.Close()
	})
}
