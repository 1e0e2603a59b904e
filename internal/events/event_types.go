package events

import (
	"time"

	"github.com/spec-kit/query-service/internal/domain"
)

// EventKind enumerates supported event identifiers.
type EventKind string

const (
	KindCreated EventKind = "created"
	KindUpdated EventKind = "updated"
)

// StreamName is the event name push transports use for a kind.
func (k EventKind) StreamName() string {
	switch k {
	case KindCreated:
		return "newQuery"
	case KindUpdated:
		return "queryUpdated"
	default:
		return string(k)
	}
}

// Event carries a full snapshot of the query after a mutation.
type Event struct {
	ID        string        `json:"id"`
	Kind      EventKind     `json:"kind"`
	QueryID   string        `json:"queryId"`
	Timestamp time.Time     `json:"timestamp"`
	Query     *domain.Query `json:"query"`
}
