// Package events provides the live interaction-trace broadcaster behind the
// admin WebSocket endpoint: every completed or refused interaction is pushed
// to operators already watching the chat it belongs to, alongside the
// polling-based REST trace endpoints in pkg/proxyapi.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds how long a single send to a slow client may block.
const writeTimeout = 5 * time.Second

// TraceEvent is one interaction pushed to subscribers of its chat.
type TraceEvent struct {
	ChatID      string                 `json:"chatId"`
	AgentID     string                 `json:"agentId"`
	Type        string                 `json:"type"`
	Interaction map[string]interface{} `json:"interaction"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type subscriber struct {
	send chan []byte
}

// Broadcaster fans out TraceEvents to WebSocket clients subscribed to a
// chat's id. Each Go process owns one Broadcaster; there is no
// cross-process distribution — a single admin-facing replica is assumed.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}

	logger *slog.Logger
}

// NewBroadcaster builds a Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{subs: make(map[string]map[*subscriber]struct{}), logger: logger}
}

// Publish sends ev to every subscriber currently watching ev.ChatID. Safe to
// call from the orchestrator's persistence path; never blocks on a slow
// client beyond each subscriber's own buffered channel.
func (b *Broadcaster) Publish(ev TraceEvent) {
	if ev.ChatID == "" {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("events: failed to marshal trace event", "error", err)
		return
	}

	b.mu.RLock()
	subs := b.subs[ev.ChatID]
	targets := make([]*subscriber, 0, len(subs))
	for s := range subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.send <- payload:
		default:
			b.logger.Warn("events: dropping trace event for slow subscriber", "chat_id", ev.ChatID)
		}
	}
}

// ServeWS upgrades the request to a WebSocket and streams chatID's trace
// events until the client disconnects or ctx is cancelled. Blocking.
func (b *Broadcaster) ServeWS(ctx context.Context, w http.ResponseWriter, r *http.Request, chatID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s := &subscriber{send: make(chan []byte, 32)}
	b.subscribe(chatID, s)
	defer b.unsubscribe(chatID, s)

	// Drain and discard client frames so the read side stays unblocked;
	// this endpoint is output-only. A read error means the client is gone.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-disconnected:
			return nil
		case payload, ok := <-s.send:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return err
			}
		}
	}
}

func (b *Broadcaster) subscribe(chatID string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[chatID] == nil {
		b.subs[chatID] = make(map[*subscriber]struct{})
	}
	b.subs[chatID][s] = struct{}{}
}

func (b *Broadcaster) unsubscribe(chatID string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[chatID]
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, chatID)
	}
}

// SubscriberCount reports how many clients are watching chatID — used by
// tests to poll instead of sleeping.
func (b *Broadcaster) SubscriberCount(chatID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[chatID])
}
