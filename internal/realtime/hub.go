// Package realtime pushes domain events to connected users over websockets
// and relays them between API instances through Redis.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
)

// Subscription is one live connection's view of the hub. Receive from C
// until it is closed; call Cancel when the connection goes away.
type Subscription struct {
	ID     uuid.UUID
	UserID uuid.UUID
	C      <-chan events.Event

	send chan events.Event
	hub  *Hub
	once sync.Once
}

// Cancel detaches the subscription and closes C. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() { s.hub.remove(s) })
}

type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[uuid.UUID]*Subscription
	log     *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients: make(map[uuid.UUID]map[uuid.UUID]*Subscription),
		log:     log,
	}
}

func (h *Hub) Subscribe(userID uuid.UUID, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan events.Event, buffer)
	sub := &Subscription{ID: uuid.New(), UserID: userID, C: ch, send: ch, hub: h}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[uuid.UUID]*Subscription)
	}
	h.clients[userID][sub.ID] = sub
	h.mu.Unlock()

	h.log.Debug("subscriber registered", zap.String("user_id", userID.String()), zap.String("sub_id", sub.ID.String()))
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.clients[sub.UserID]
	if _, ok := subs[sub.ID]; !ok {
		return
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(h.clients, sub.UserID)
	}
	close(sub.send)
	h.log.Debug("subscriber removed", zap.String("user_id", sub.UserID.String()), zap.String("sub_id", sub.ID.String()))
}

// Publish delivers ev to every subscription of its recipients. A full
// subscriber buffer drops the event for that subscriber only.
func (h *Hub) Publish(ctx context.Context, ev events.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, userID := range ev.Recipients {
		for _, sub := range h.clients[userID] {
			select {
			case sub.send <- ev:
			default:
				h.log.Warn("subscriber buffer full, event dropped",
					zap.String("user_id", userID.String()),
					zap.String("event", string(ev.Type)),
				)
			}
		}
	}
	return nil
}

// Connected reports how many live subscriptions a user has.
func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
