package push

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultWriteWait = 5 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
)

type subscription struct {
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex // serializes writes on conn
	once   sync.Once
}

func (s *subscription) write(deadline time.Time, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *subscription) ping(deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// Hub keeps the live websocket subscriptions of each user.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

// NewHub creates a hub accepting upgrades from the given origins.
// An empty list or "*" accepts any origin.
func NewHub(logger *zap.Logger, allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Hub{
		log:  logger,
		subs: make(map[string]map[*subscription]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
	}
}

// Serve upgrades the request and keeps the subscription until the client
// goes away. The caller must have authenticated userID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	sub := &subscription{userID: userID, conn: conn}
	h.register(sub)
	defer h.deactivate(sub)

	done := make(chan struct{})
	defer close(done)
	go h.keepAlive(sub, done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Incoming messages are ignored; reading drives control frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) keepAlive(sub *subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sub.ping(time.Now().Add(defaultWriteWait)); err != nil {
				h.deactivate(sub)
				return
			}
		}
	}
}

func (h *Hub) register(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sub.userID]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[sub.userID] = set
	}
	set[sub] = struct{}{}
	h.log.Debug("websocket subscribed", zap.String("user_id", sub.userID), zap.Int("subscriptions", len(set)))
}

func (h *Hub) deactivate(sub *subscription) {
	sub.once.Do(func() {
		h.mu.Lock()
		if set, ok := h.subs[sub.userID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sub.userID)
			}
		}
		h.mu.Unlock()
		_ = sub.conn.Close()
	})
}

// Subscriptions returns the number of live subscriptions of a user.
func (h *Hub) Subscriptions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Send writes msg to every subscription of userID. Subscriptions whose
// write fails are deactivated and counted as failed.
func (h *Hub) Send(ctx context.Context, userID string, msg Message) (Result, error) {
	h.mu.RLock()
	targets := make([]*subscription, 0, len(h.subs[userID]))
	for sub := range h.subs[userID] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	deadline := time.Now().Add(defaultWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var res Result
	for _, sub := range targets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := sub.write(deadline, msg); err != nil {
			h.log.Info("deactivating websocket subscription",
				zap.String("user_id", userID), zap.Error(err))
			h.deactivate(sub)
			res.Failed++
			continue
		}
		res.Sent++
	}
	return res, nil
}

// Close drops every subscription.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*subscription
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range all {
		h.deactivate(sub)
	}
}
