// Package relay fans session messages out between the connections of one
// user. Each client process opens a websocket; whatever one connection
// sends reaches every other connection authenticated as the same user.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultPath = "/relay"

	readTimeout       = 60 * time.Second
	writeTimeout      = 10 * time.Second
	heartbeatInterval = 30 * time.Second
	maxMessageSize    = 64 << 10
	sendBuffer        = 32
)

var (
	errSlowConsumer = errors.New("relay: slow consumer")
	errStopped      = errors.New("relay: stopped")
)

// Authenticator resolves an access token to the user it belongs to.
type Authenticator func(token string) (userID string, err error)

// envelope is what clients send; only its shape is checked.
type envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub keeps one room per user.
type Hub struct {
	path         string
	upgrader     websocket.Upgrader
	authenticate Authenticator
	logger       logging.Logger

	mu    sync.RWMutex
	rooms map[string]map[*conn]struct{}

	connections prometheus.Gauge
	messages    *prometheus.CounterVec
}

// NewHub builds a hub. Metrics are registered on reg when it is non-nil.
func NewHub(authenticate Authenticator, logger logging.Logger, reg prometheus.Registerer) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	h := &Hub{
		path:         DefaultPath,
		authenticate: authenticate,
		logger:       logger.With("module", "relay"),
		rooms:        make(map[string]map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// non-browser clients; the token is the access check
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sessionkeeper",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open relay connections.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Messages received by the relay, by topic.",
		}, []string{"topic"}),
	}
	if reg != nil {
		reg.MustRegister(h.connections, h.messages)
	}
	return h
}

// Path returns the HTTP path the hub expects for websocket upgrades.
func (h *Hub) Path() string { return h.path }

// ServeHTTP authenticates and upgrades the request, then joins the
// connection to its user's room.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := r.Header.Get(common.AccessTokenHeaderName)
	if token == "" {
		token = r.URL.Query().Get(common.AccessTokenHeaderName)
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	userID, err := h.authenticate(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "upgrade failed", "error", err)
		return
	}

	c := newConn(ws, h, userID)
	h.join(c)
	go c.writePump()
	go c.readPump()
}

// Connections reports how many connections userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

// Stop closes every connection.
func (h *Hub) Stop(_ context.Context) {
	h.mu.Lock()
	var all []*conn
	for _, room := range h.rooms {
		for c := range room {
			all = append(all, c)
		}
	}
	h.rooms = make(map[string]map[*conn]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.close(errStopped)
	}
}

func (h *Hub) join(c *conn) {
	h.mu.Lock()
	room, ok := h.rooms[c.userID]
	if !ok {
		room = make(map[*conn]struct{})
		h.rooms[c.userID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()

	h.connections.Inc()
	h.logger.Debug(context.Background(), "relay connection opened", "user", c.userID)
}

func (h *Hub) leave(c *conn, cause error) {
	h.mu.Lock()
	room := h.rooms[c.userID]
	_, present := room[c]
	if present {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.userID)
		}
	}
	h.mu.Unlock()

	h.connections.Dec()
	if !isNormalClose(cause) {
		h.logger.Debug(context.Background(), "relay connection closed", "user", c.userID, "cause", cause)
	}
}

// forward delivers msg to every connection of from's user except from.
func (h *Hub) forward(from *conn, msg []byte) {
	h.mu.RLock()
	peers := make([]*conn, 0, len(h.rooms[from.userID]))
	for c := range h.rooms[from.userID] {
		if c != from {
			peers = append(peers, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range peers {
		c.enqueue(msg)
	}
}

func isNormalClose(err error) bool {
	return errors.Is(err, errStopped) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
