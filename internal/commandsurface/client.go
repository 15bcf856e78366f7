package commandsurface

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
)

// Client is one GUI's event-stream WebSocket connection. It never reads
// commands off this socket (those arrive over the HTTP command endpoint);
// ReadPump exists only to service the liveness pong and detect disconnects.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *logger.Logger
}

func newClient(conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    hub,
		logger: log,
	}
}

// ReadPump drains and discards client frames, maintaining the read deadline
// via the pong handler until the connection drops.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("command surface websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// WritePump drains the hub's broadcast queue to the socket and sends
// periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
