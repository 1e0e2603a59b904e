package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/query-service/internal/domain"
	"github.com/spec-kit/query-service/internal/observability"
)

const defaultBufferSize = 64

// Publisher accepts events for best-effort delivery. Implementations never
// block on slow observers and never report delivery failures to the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// NewEvent snapshots q into an event of the given kind, stamped now.
func NewEvent(kind EventKind, q *domain.Query) Event {
	return NewEventAt(kind, q, time.Now())
}

// NewEventAt snapshots q into an event stamped at the given time.
func NewEventAt(kind EventKind, q *domain.Query, at time.Time) Event {
	snapshot := q.Clone()
	event := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: at,
		Query:     snapshot,
	}
	if snapshot != nil {
		event.QueryID = snapshot.ID
	}
	return event
}

// Subscription is the handle of one observer. Events arrive on C, which is
// closed once the subscription is removed. Receivers must treat the carried
// query as read-only.
type Subscription struct {
	ID string
	C  <-chan Event

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *Subscription) deliver(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub fans events out to every subscriber registered at publish time.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	bufferSize  int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewHub creates a hub whose subscribers buffer up to bufferSize events.
func NewHub(bufferSize int, logger *zap.Logger, metrics *observability.Metrics) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]*Subscription),
		bufferSize:  bufferSize,
		logger:      logger,
		metrics:     metrics,
	}
}

// Subscribe registers a new observer. It only sees events published afterwards.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.bufferSize)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()

	h.logger.Debug("observer subscribed", zap.String("subscription_id", sub.ID))
	return sub
}

// Unsubscribe removes the observer and closes its channel. Repeated calls are no-ops.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, registered := h.subscribers[sub.ID]
	delete(h.subscribers, sub.ID)
	h.mu.Unlock()

	sub.close()
	if registered {
		h.logger.Debug("observer unsubscribed", zap.String("subscription_id", sub.ID))
	}
}

// Publish delivers event to a snapshot of the current subscribers. A full
// buffer drops the event for that subscriber only.
func (h *Hub) Publish(ctx context.Context, event Event) {
	h.mu.RLock()
	subscribers := make([]*Subscription, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subscribers = append(subscribers, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range subscribers {
		if sub.deliver(event) {
			delivered++
			continue
		}
		h.metrics.RecordEventDropped(string(event.Kind))
		h.logger.Warn("observer buffer full; event dropped",
			zap.String("subscription_id", sub.ID),
			zap.String("event_kind", string(event.Kind)),
			zap.String("query_id", event.QueryID))
	}
	h.metrics.RecordEventPublished(string(event.Kind), delivered)
}

// SubscriberCount reports how many observers are registered.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close unsubscribes every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	subscribers := h.subscribers
	h.subscribers = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subscribers {
		sub.close()
	}
}
