package hub

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

var (
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
	pingInterval = idleTimeout * 9 / 10
)

// clients only answer pings
const readLimit = 4 << 10

// outboxSize is how many events a client may lag behind before eviction.
const outboxSize = 64

// Client is one websocket subscriber.
type Client struct {
	ID string

	hub  *Hub
	conn *websocket.Conn
	out  chan []byte
}

// NewClient joins conn to h. Each greeting is encoded and delivered before
// any broadcast, so a client learns the current state on connect. It
// returns nil once the hub has stopped.
func NewClient(h *Hub, conn *websocket.Conn, greeting ...any) *Client {
	c := &Client{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		out:  make(chan []byte, outboxSize+len(greeting)),
	}
	for _, g := range greeting {
		data, err := json.Marshal(g)
		if err != nil {
			h.logger.Warn("encode greeting", "client", c.ID, "error", err)
			continue
		}
		c.out <- data
	}
	select {
	case h.join <- c:
		return c
	case <-h.done:
		return nil
	}
}

// Run serves the connection until it drops or the hub stops. It blocks,
// so call it from the websocket handler.
func (c *Client) Run() {
	go c.writeLoop()
	c.readLoop()
}

func (c *Client) readLoop() {
	defer func() {
		select {
		case c.hub.leave <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the only goroutine that writes to conn.
func (c *Client) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
