package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	h := NewHub()

	var got []string
	unsub := h.Subscribe(TopicActivity, func(p []byte) { got = append(got, string(p)) })
	h.Subscribe(TopicLogout, func([]byte) { t.Fatal("wrong topic") })

	require.NoError(t, h.Publish(context.Background(), TopicActivity, []byte(`"a"`)))
	unsub()
	unsub()
	require.NoError(t, h.Publish(context.Background(), TopicActivity, []byte(`"b"`)))

	assert.Equal(t, []string{`"a"`}, got)
}

func TestHub_HandlerMayPublish(t *testing.T) {
	h := NewHub()
	var logouts int
	h.Subscribe(TopicActivity, func([]byte) {
		_ = h.Publish(context.Background(), TopicLogout, nil)
	})
	h.Subscribe(TopicLogout, func([]byte) { logouts++ })

	require.NoError(t, h.Publish(context.Background(), TopicActivity, []byte(`{}`)))
	assert.Equal(t, 1, logouts)
}

// fanout is a minimal relay: every message goes to every other connection.
type fanout struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	tokens []string
}

func (f *fanout) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns[conn] = struct{}{}
	f.tokens = append(f.tokens, r.Header.Get(common.AccessTokenHeaderName))
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			delete(f.conns, conn)
			f.mu.Unlock()
			return
		}
		f.mu.Lock()
		for c := range f.conns {
			if c != conn {
				_ = c.WriteMessage(websocket.TextMessage, data)
			}
		}
		f.mu.Unlock()
	}
}

func (f *fanout) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func TestWSBus_RelaysBetweenConnections(t *testing.T) {
	relay := &fanout{conns: map[*websocket.Conn]struct{}{}}
	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx := context.Background()
	a, err := Dial(ctx, url, "tok", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := Dial(ctx, url, "tok", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	require.Eventually(t, func() bool { return relay.count() == 2 }, time.Second, 5*time.Millisecond)

	received := make(chan string, 2)
	b.Subscribe(TopicLogout, func(p []byte) { received <- string(p) })
	var local []string
	a.Subscribe(TopicLogout, func(p []byte) { local = append(local, string(p)) })

	require.NoError(t, a.Publish(ctx, TopicLogout, []byte(`{"reason":"timeout"}`)))

	select {
	case p := <-received:
		assert.JSONEq(t, `{"reason":"timeout"}`, p)
	case <-time.After(time.Second):
		t.Fatal("message was not relayed")
	}
	assert.Equal(t, []string{`{"reason":"timeout"}`}, local)
	assert.Equal(t, []string{"tok", "tok"}, relay.tokens)
}

func TestWSBus_PublishAfterClose(t *testing.T) {
	srv := httptest.NewServer(&fanout{conns: map[*websocket.Conn]struct{}{}})
	t.Cleanup(srv.Close)

	b, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), "tok", nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	<-b.Done()
	require.ErrorIs(t, b.Publish(context.Background(), TopicActivity, []byte(`{}`)), ErrClosed)
	require.ErrorIs(t, b.Err(), ErrClosed)
}
