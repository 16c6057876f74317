package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentals/internal/store"
)

const (
	subscriberBuffer = 16
	writeTimeout     = 5 * time.Second
	pingInterval     = 30 * time.Second
)

// ServerMessage is the envelope written to stream subscribers.
type ServerMessage struct {
	Type string `json:"type"` // "hello", "notification"
	Data any    `json:"data,omitempty"`
}

// Hub fans new notifications out to the live subscribers of each user.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan *store.Notification]struct{}
	log  zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[string]map[chan *store.Notification]struct{}),
		log:  logger.With().Str("component", "notify-hub").Logger(),
	}
}

// Subscribe registers a receiver for userID. The returned cancel function
// must be called to release it.
func (h *Hub) Subscribe(userID string) (<-chan *store.Notification, func()) {
	ch := make(chan *store.Notification, subscriberBuffer)
	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan *store.Notification]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
		})
	}
}

// Publish delivers n to every subscriber of n.UserID without blocking.
// Slow subscribers miss messages; the stored notification remains readable.
func (h *Hub) Publish(n *store.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[n.UserID] {
		select {
		case ch <- n:
		default:
			h.log.Warn().Str("user_id", n.UserID).Msg("subscriber buffer full, dropping notification")
		}
	}
}

// Subscribers returns the number of live subscribers for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// ServeWS upgrades the request and streams userID's new notifications until
// the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ch, cancel := h.Subscribe(userID)
	defer cancel()

	// The stream is write-only; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	if err := h.send(ctx, conn, ServerMessage{Type: "hello", Data: map[string]string{"user_id": userID}}); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case n := <-ch:
			if err := h.send(ctx, conn, ServerMessage{Type: "notification", Data: n}); err != nil {
				return
			}
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, msg); err != nil {
		h.log.Debug().Err(err).Msg("websocket write")
		return err
	}
	return nil
}
