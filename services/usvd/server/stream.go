package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"usvprotocol/core/events"
	"usvprotocol/observability/metrics"
)

const wsWriteTimeout = 10 * time.Second

// Hub fans committed events out to websocket subscribers. A subscriber that
// falls a full buffer behind loses events rather than stalling the engine.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	buffer int
	logger *slog.Logger
}

type subscriber struct {
	ch     chan events.Record
	prefix string
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), buffer: buffer, logger: logger}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	rec := events.Flatten(evt)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.prefix != "" && !strings.HasPrefix(rec.Type, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- rec:
		default:
			metrics.Events().RecordDropped("stream")
		}
	}
}

// Subscribe registers a subscriber for event types starting with prefix.
// The returned function unregisters it.
func (h *Hub) Subscribe(prefix string) (<-chan events.Record, func()) {
	sub := &subscriber{ch: make(chan events.Record, h.buffer), prefix: prefix}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of attached subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeWS streams events as JSON text frames. The optional type query
// parameter filters by event type prefix.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	records, cancel := h.Subscribe(strings.TrimSpace(r.URL.Query().Get("type")))
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	if err := streamRecords(ctx, conn, records); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			h.logger.Debug("event stream ended", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamRecords(ctx context.Context, conn *websocket.Conn, records <-chan events.Record) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-records:
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
