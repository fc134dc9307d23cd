package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgecast/pkg/models"
)

func TestWebSocketURL(t *testing.T) {
	d := NewWebSocketDialer("wss://relay.example/")

	u, err := d.URL(Address{
		StreamID:   "0xabc/avatarchat-1",
		Credential: "k y",
		Direction:  models.DirectionPublish,
	})
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example/streams/0xabc%2Favatarchat-1/publish?apiKey=k+y", u)

	u, err = d.URL(Address{StreamID: "s", Direction: models.DirectionSubscribe})
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example/streams/s/subscribe", u)

	_, err = NewWebSocketDialer("http://relay.example").URL(Address{StreamID: "s"})
	require.Error(t, err)
}

type relayRequest struct {
	path   string
	apiKey string
	msg    []byte
}

func TestWebSocketDialAndExchange(t *testing.T) {
	requests := make(chan relayRequest, 4)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		req := relayRequest{path: r.URL.EscapedPath(), apiKey: r.URL.Query().Get("apiKey")}

		if strings.HasSuffix(req.path, "/publish") {
			_, msg, err := ws.ReadMessage()
			if err == nil {
				req.msg = msg
			}
			requests <- req
			return
		}

		requests <- req
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"video":"eA=="}`))
		_, _, _ = ws.ReadMessage() // wait for client close
	}))
	defer srv.Close()

	d := NewWebSocketDialer("ws"+strings.TrimPrefix(srv.URL, "http"), WithHandshakeTimeout(2*time.Second), WithReadLimit(1<<20))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub, err := d.Dial(ctx, Address{StreamID: "owner/name-1", Credential: "secret", Direction: models.DirectionPublish})
	require.NoError(t, err)
	require.NoError(t, pub.WriteMessage([]byte(`{"video":"AAAA"}`)))

	got := <-requests
	assert.Equal(t, "/streams/owner%2Fname-1/publish", got.path)
	assert.Equal(t, "secret", got.apiKey)
	assert.Equal(t, `{"video":"AAAA"}`, string(got.msg))
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close(), "close is idempotent")

	sub, err := d.Dial(ctx, Address{StreamID: "owner/name-2", Direction: models.DirectionSubscribe})
	require.NoError(t, err)
	defer sub.Close()

	got = <-requests
	assert.Equal(t, "/streams/owner%2Fname-2/subscribe", got.path)

	msg, err := sub.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"video":"eA=="}`, string(msg))
}

func TestWebSocketDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewWebSocketDialer("ws" + strings.TrimPrefix(srv.URL, "http"))
	_, err := d.Dial(context.Background(), Address{StreamID: "s", Direction: models.DirectionPublish})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
