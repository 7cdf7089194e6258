package events

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_PublishReachesSubscriber(t *testing.T) {
	b := NewBroadcaster(nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = b.ServeWS(r.Context(), w, r, "chat-1")
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return b.SubscriberCount("chat-1") == 1 }, time.Second, 5*time.Millisecond)

	b.Publish(TraceEvent{ChatID: "chat-1", AgentID: "agent-1", Type: "anthropic"})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"chatId":"chat-1"`)
	assert.Contains(t, string(data), `"agentId":"agent-1"`)
}

func TestBroadcaster_PublishToUnwatchedChatIsNoop(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Publish(TraceEvent{ChatID: "nobody-watching", Type: "anthropic"})
	assert.Equal(t, 0, b.SubscriberCount("nobody-watching"))
}

func TestBroadcaster_UnsubscribesOnDisconnect(t *testing.T) {
	b := NewBroadcaster(nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = b.ServeWS(r.Context(), w, r, "chat-2")
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.SubscriberCount("chat-2") == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return b.SubscriberCount("chat-2") == 0 }, time.Second, 5*time.Millisecond)
}
