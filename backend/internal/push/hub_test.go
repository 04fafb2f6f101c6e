package push

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
	"go.uber.org/zap"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHub_Send(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "student-1")
	}))
	defer srv.Close()
	defer hub.Close()

	t.Run("no subscriptions sends nothing", func(t *testing.T) {
		res, err := hub.Send(context.Background(), "nobody", Message{Title: "x"})
		require.NoError(t, err)
		assert.Equal(t, Result{}, res)
	})

	t.Run("delivers to every subscription of the user", func(t *testing.T) {
		c1 := dial(t, srv)
		defer c1.Close()
		c2 := dial(t, srv)
		defer c2.Close()

		require.Eventually(t, func() bool { return hub.Subscriptions("student-1") == 2 }, 2*time.Second, 10*time.Millisecond)

		msg := Message{Title: "Grades released", Body: "Q1 Math", Tag: "grade_release-r1-1", Data: map[string]string{"type": "grade_release"}}
		res, err := hub.Send(context.Background(), "student-1", msg)
		require.NoError(t, err)
		assert.Equal(t, Result{Sent: 2}, res)

		for _, c := range []*websocket.Conn{c1, c2} {
			var got Message
			require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
			require.NoError(t, c.ReadJSON(&got))
			assert.Equal(t, msg, got)
		}
	})

	t.Run("client disconnect removes the subscription", func(t *testing.T) {
		require.Eventually(t, func() bool { return hub.Subscriptions("student-1") == 0 }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestHub_DeactivatesFailedSubscription(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)

	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	defer srv.Close()

	client := dial(t, srv)
	defer client.Close()

	serverConn := <-conns
	require.NoError(t, serverConn.Close())
	hub.register(&subscription{userID: "student-2", conn: serverConn})
	require.Equal(t, 1, hub.Subscriptions("student-2"))

	res, err := hub.Send(context.Background(), "student-2", Message{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 1}, res)
	assert.Equal(t, 0, hub.Subscriptions("student-2"))
}

func TestLogPusher(t *testing.T) {
	p := &LogPusher{Log: zap.NewNop()}
	res, err := p.Send(context.Background(), "u", Message{Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}
