package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"perq/core/events"
	"perq/observability"
	"perq/storage/localstore"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsClientBuffer = 64
)

// Message is one frame pushed to dashboard tabs.
type Message struct {
	Type   string             `json:"type"`
	Change *localstore.Change `json:"change,omitempty"`
	Event  *events.Record     `json:"event,omitempty"`
}

type hubClient struct {
	send chan []byte
}

// Hub fans store changes and domain events out to WebSocket clients. It is
// an events.Emitter. Slow clients lose frames rather than blocking writers.
type Hub struct {
	logger         *slog.Logger
	originPatterns []string

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, originPatterns []string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, originPatterns: originPatterns, clients: make(map[*hubClient]struct{})}
}

// Emit forwards recordable events to every client.
func (h *Hub) Emit(evt events.Event) {
	observability.Events().RecordEvent(evt.EventType())
	rec, ok := evt.(events.Recordable)
	if !ok {
		return
	}
	h.broadcast(Message{Type: "event", Event: rec.Event()})
}

// Attach subscribes the hub to every key and returns the detach function.
func (h *Hub) Attach(store *localstore.Store, keys []string) func() {
	unsubs := make([]func(), 0, len(keys))
	for _, key := range keys {
		unsubs = append(unsubs, store.Subscribe(key, func(change localstore.Change) {
			h.broadcast(Message{Type: "change", Change: &change})
		}))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Clients reports the number of connected tabs.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("encode websocket frame", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("websocket client lagging, frame dropped", "type", msg.Type)
		}
	}
}

func (h *Hub) register() *hubClient {
	c := &hubClient{send: make(chan []byte, wsClientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams frames until either side goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	client := h.register()
	defer h.unregister(client)
	h.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, client); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, client *hubClient) error {
	hello, _ := json.Marshal(Message{Type: "hello"})
	if err := writeFrame(ctx, conn, hello); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-client.send:
			if err := writeFrame(ctx, conn, data); err != nil {
				return err
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
