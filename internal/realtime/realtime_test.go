package realtime

import (
	"encoding/json"
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

func dialHub(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "?" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscribers", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return &msg
}

func TestHub_SendReachesProjectSubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer ts.Close()

	conn := dialHub(t, ts, "project=p1")
	waitForSubscribers(t, hub, 1)

	hub.Send("p1", map[string]string{"id": "m1"},
		[]string{"migrations.m1.update"},
		[]string{"migrations", "migrations.m1"},
		[]string{"any"})

	msg := readMessage(t, conn)
	assert.Equal(t, "p1", msg.ProjectID)
	assert.Equal(t, []string{"migrations.m1.update"}, msg.Events)
}

func TestHub_SendFiltersByProject(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer ts.Close()

	conn := dialHub(t, ts, "project=p2")
	waitForSubscribers(t, hub, 1)

	hub.Send("p1", nil, []string{"e"}, []string{"migrations"}, nil)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "subscriber of another project must not receive the message")
}

func TestHub_SendFiltersByChannel(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer ts.Close()

	matching := dialHub(t, ts, "project=p1&channels=migrations")
	other := dialHub(t, ts, "project=p1&channels=files")
	waitForSubscribers(t, hub, 2)

	hub.Send("p1", nil, []string{"e"}, []string{"migrations"}, nil)

	msg := readMessage(t, matching)
	assert.Equal(t, []string{"migrations"}, msg.Channels)

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err)
}

func TestHub_RequiresProjectParameter(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
