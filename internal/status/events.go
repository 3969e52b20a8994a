package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/wakegate/internal/gate"
	"github.com/MrWong99/wakegate/internal/journal"
	"github.com/MrWong99/wakegate/internal/observe"
)

const (
	// DefaultSubscriberBuffer is the per-client queue length.
	DefaultSubscriberBuffer = 32

	writeTimeout = 5 * time.Second
)

// Event is one message on the /events feed.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

type subscriber struct {
	msgs chan []byte
}

// Hub fans decisions and triggers out to websocket clients. Publishing never
// blocks: a client whose queue is full misses the message.
type Hub struct {
	buffer int
	log    *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}

	dropped atomic.Int64
}

// NewHub returns a Hub with a per-client queue of buffer messages.
func NewHub(buffer int, log *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{buffer: buffer, log: log, subs: make(map[*subscriber]struct{})}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many messages were skipped for slow clients.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Publish sends an event of type kind to every client.
func (h *Hub) Publish(kind string, v any) {
	msg, err := json.Marshal(Event{Type: kind, At: time.Now(), Data: v})
	if err != nil {
		h.log.Warn("status: encode event", "type", kind, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.msgs <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// RecordDecision publishes d as a "decision" event.
func (h *Hub) RecordDecision(ctx context.Context, d gate.Decision) {
	e := journal.EntryFromDecision(d)
	e.RunID = observe.CorrelationID(ctx)
	h.Publish("decision", e)
}

func (h *Hub) subscribe() *subscriber {
	s := &subscriber{msgs: make(chan []byte, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Debug("status: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	s := h.subscribe()
	defer h.unsubscribe(s)

	// Incoming frames are discarded; ctx ends when the client closes.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.msgs:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.log.Debug("status: websocket write", "err", err)
				return
			}
		}
	}
}
