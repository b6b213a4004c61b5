package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type conn struct {
	ws     *websocket.Conn
	hub    *Hub
	userID string

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, hub *Hub, userID string) *conn {
	c := &conn{
		ws:     ws,
		hub:    hub,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	return c
}

func (c *conn) readPump() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.close(err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Topic == "" {
			c.hub.logger.Debug(context.Background(), "dropping malformed relay message", "user", c.userID)
			continue
		}
		c.hub.messages.WithLabelValues(env.Topic).Inc()
		c.hub.forward(c, data)
	}
}

// writePump owns all writes to ws.
func (c *conn) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			_ = c.ws.Close()
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close(err)
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				c.close(err)
			}
		}
	}
}

// enqueue never blocks; a peer that cannot keep up is disconnected.
func (c *conn) enqueue(msg []byte) {
	select {
	case <-c.closed:
	case c.send <- msg:
	default:
		c.close(errSlowConsumer)
	}
}

func (c *conn) close(cause error) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.hub.leave(c, cause)
	})
}
