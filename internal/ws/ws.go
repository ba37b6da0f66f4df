// Package ws is the websocket feed that tells browsers the listings changed.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/vindennt/gus-marketplace/internal/models"
)

const writeWait = 5 * time.Second

type Hub struct {
	// Controls the message queue's window size
	// A subscriber that falls this far behind is disconnected
	subscriberMessageBuffer int

	// Controls the rate limit of publishes
	// Default: 1 every 100ms, burst capacity of 8
	publishLimiter *rate.Limiter

	logf func(format string, v ...any)

	// Origins allowed to open the feed. Empty accepts any origin
	originPatterns []string

	mu          sync.Mutex
	subscribers map[int64]*Subscriber

	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Hub)

// WithLogf sets the logger, e.g. zap's Sugar().Infof
func WithLogf(logf func(format string, v ...any)) Option {
	return func(h *Hub) {
		h.logf = logf
	}
}

func WithOriginPatterns(patterns []string) Option {
	return func(h *Hub) {
		h.originPatterns = patterns
	}
}

func WithPublishLimit(every time.Duration, burst int) Option {
	return func(h *Hub) {
		h.publishLimiter = rate.NewLimiter(rate.Every(every), burst)
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subscriberMessageBuffer: 16,
		publishLimiter:          rate.NewLimiter(rate.Every(100*time.Millisecond), 8),
		logf:                    func(string, ...any) {},
		subscribers:             make(map[int64]*Subscriber),
		done:                    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the feed at /ws/listings
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/listings", h.subscribeHandler)
}

// Publish sends ev to every subscriber. Subscribers that cannot take the
// message right away are disconnected
func (h *Hub) Publish(ctx context.Context, ev models.ListingEvent) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	if err := h.publishLimiter.Wait(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.subscribers {
		select {
		case s.messc <- msg:
		default:
			h.logf("subscriber %d too slow, closing", s.ID())
			go s.closeSlow()
		}
	}
	return nil
}

// Changed announces a create or delete of listing id
func (h *Hub) Changed(ctx context.Context, action, id string) error {
	return h.Publish(ctx, models.ListingEvent{
		Type:   models.EventListingsChanged,
		Action: action,
		ID:     id,
	})
}

func (h *Hub) addSubscriber(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[s.ID()] = s
}

func (h *Hub) removeSubscriber(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, s.ID())
}

// Close tells every connected client the server is going away. Hijacked
// websocket connections are not closed by http.Server.Shutdown
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Writes msg to conn, giving up after timeout so a slow client cannot block
func writeTimeout(ctx context.Context, timeout time.Duration, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, msg)
}

func (h *Hub) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	err := h.subscribe(w, r)
	if errors.Is(err, context.Canceled) {
		return
	}

	if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
		return
	}

	if err != nil {
		h.logf("feed subscription ended: %v", err)
	}
}

// subscribe accepts the websocket, sends WELCOME and then forwards every
// published message until the client goes away. The feed is read only;
// CloseRead handles control frames and cancels ctx when the peer closes
func (h *Hub) subscribe(w http.ResponseWriter, r *http.Request) error {
	var mu sync.Mutex
	var conn *websocket.Conn
	var closed bool

	s := NewSubscriber(make(chan []byte, h.subscriberMessageBuffer), func() {
		mu.Lock()
		defer mu.Unlock()

		closed = true
		if conn != nil {
			conn.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with messages")
		}
	})
	h.addSubscriber(s)
	defer h.removeSubscriber(s)

	opts := websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	if len(h.originPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}

	c, err := websocket.Accept(w, r, &opts)
	if err != nil {
		return err
	}

	// closeSlow may already have run from a publish goroutine
	mu.Lock()
	if closed {
		mu.Unlock()
		c.CloseNow()
		return net.ErrClosed
	}
	conn = c
	mu.Unlock()
	defer conn.CloseNow()

	h.logf("feed subscriber %d connected", s.ID())

	welcome, _ := json.Marshal(models.ListingEvent{Type: models.EventWelcome})
	if err := writeTimeout(r.Context(), writeWait, conn, welcome); err != nil {
		return err
	}

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case msg := <-s.messc:
			if err := writeTimeout(ctx, writeWait, conn, msg); err != nil {
				return err
			}
		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
