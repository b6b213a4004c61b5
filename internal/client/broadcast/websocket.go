package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 64 << 10
)

var ErrClosed = errors.New("broadcast: connection closed")

// WSBus is a Bus backed by a websocket connection to the relay. Messages
// published here reach the other connections of the same user; messages
// from them are delivered to local subscribers.
type WSBus struct {
	local  *Hub
	conn   *websocket.Conn
	logger logging.Logger

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial connects to the relay at url, authenticating with accessToken.
func Dial(ctx context.Context, url, accessToken string, logger logging.Logger) (*WSBus, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	header := http.Header{}
	header.Set(common.AccessTokenHeaderName, accessToken)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	b := &WSBus{
		local:  NewHub(),
		conn:   conn,
		logger: logger.With("module", "broadcast"),
		closed: make(chan struct{}),
	}
	go b.run()
	return b, nil
}

func (b *WSBus) run() {
	for {
		var msg Message
		if err := b.conn.ReadJSON(&msg); err != nil {
			b.cleanup(err)
			return
		}
		b.local.deliver(msg.Topic, msg.Payload)
	}
}

// Publish sends payload to the relay and to local subscribers.
func (b *WSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	b.writeMu.Lock()
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = b.conn.SetWriteDeadline(deadline)
	err := b.conn.WriteJSON(Message{Topic: topic, Payload: payload})
	b.writeMu.Unlock()
	if err != nil {
		b.cleanup(err)
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	b.local.deliver(topic, payload)
	return nil
}

func (b *WSBus) Subscribe(topic string, h Handler) func() {
	return b.local.Subscribe(topic, h)
}

// Done is closed once the connection is gone.
func (b *WSBus) Done() <-chan struct{} { return b.closed }

// Err returns why the connection ended, if it has.
func (b *WSBus) Err() error {
	select {
	case <-b.closed:
		return b.err
	default:
		return nil
	}
}

// Close shuts the connection down.
func (b *WSBus) Close() error {
	b.writeMu.Lock()
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
	b.writeMu.Unlock()
	b.cleanup(ErrClosed)
	return nil
}

func (b *WSBus) cleanup(cause error) {
	b.closeOnce.Do(func() {
		b.err = cause
		close(b.closed)
		_ = b.conn.Close()
		if !errors.Is(cause, ErrClosed) && !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
			b.logger.Warn(context.Background(), "relay connection lost", "error", cause)
		}
	})
}
