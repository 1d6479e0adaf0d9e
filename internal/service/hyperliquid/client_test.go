package hyperliquid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultPulse/internal/domain/models"
)

func TestStreamSubscribesAndEmitsEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subs := make(chan subscribeMsg, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		for i := 0; i < 2; i++ {
			var m subscribeMsg
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			subs <- m
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"subscriptionResponse","data":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"trades","data":[{"coin":"BTC","side":"A","px":"100","sz":"2","time":1000}]}`))
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	s := NewStream(url, []string{"BTC"}, 10*time.Millisecond, time.Hour)
	ctx := t.Context()

	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Subscribe(ctx))
	assert.True(t, s.IsConnected())

	got := []string{(<-subs).Subscription.Type, (<-subs).Subscription.Type}
	assert.ElementsMatch(t, []string{"trades", "l2Book"}, got)

	events, _ := s.Read(ctx)
	select {
	case ev := <-events:
		require.NotNil(t, ev.Trade)
		assert.Equal(t, models.SideSell, ev.Trade.Side)
		assert.Equal(t, 2.0, ev.Trade.Size)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	require.NoError(t, s.Close())
	assert.False(t, s.IsConnected())
}
