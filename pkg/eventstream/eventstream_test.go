package eventstream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHubDeliversPublishedEventToConnectedClient(t *testing.T) {
	hub := New(zaptest.NewLogger(t))
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	// Give the server goroutine a moment to register the client before
	// publishing, since the upgrade and the registration race.
	waitForClientCount(t, hub, 1)

	hub.Publish(Event{Type: TypeSessionChanged, NID: "abc", State: "Negotiated", Timestamp: time.Now()})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "session_changed")
	require.Contains(t, string(data), "abc")
}

func TestHubDropsEventsForSlowClientsInsteadOfBlocking(t *testing.T) {
	hub := New(zaptest.NewLogger(t))
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	waitForClientCount(t, hub, 1)

	for i := 0; i < 64; i++ {
		hub.Publish(Event{Type: TypeInventoryUpdated, Timestamp: time.Now()})
	}
}

func waitForClientCount(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		count := len(hub.clients)
		hub.mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d connected client(s)", n)
}
