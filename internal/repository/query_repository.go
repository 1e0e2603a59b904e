package repository

import (
	"context"
	"errors"

	"github.com/spec-kit/query-service/internal/domain"
)

// ErrTransient marks a store failure that may succeed if the same operation is retried.
var ErrTransient = errors.New("transient store error")

// DefaultListLimit caps List when the filter does not set a limit.
const DefaultListLimit = 100

// QueryFilter narrows List results. Zero values match everything.
type QueryFilter struct {
	Statuses   []domain.QueryStatus
	Priorities []domain.QueryPriority
	Channels   []domain.SourceChannel
	AssignedTo *string
	Limit      int
	Offset     int
}

// Mutator edits the latest committed query in place and reports whether anything changed.
// Returning false skips the write entirely.
type Mutator func(q *domain.Query) (bool, error)

// QueryRepository encapsulates query persistence.
type QueryRepository interface {
	// Create assigns ID and timestamps to q. A CreatedAt already set on q is kept.
	Create(ctx context.Context, q *domain.Query) error
	GetByID(ctx context.Context, id string) (*domain.Query, error)
	// List returns queries ordered by creation time, newest first.
	List(ctx context.Context, filter QueryFilter) ([]domain.Query, error)
	// AtomicUpdate applies mutate to the latest record under a per-query lock and
	// persists status, assignee, metrics and any appended history in one step.
	AtomicUpdate(ctx context.Context, id string, mutate Mutator) (*domain.Query, error)
}

func (f QueryFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func (f QueryFilter) offset() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}

func (f QueryFilter) matches(q *domain.Query) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, q.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, q.Priority) {
		return false
	}
	if len(f.Channels) > 0 && !contains(f.Channels, q.SourceChannel) {
		return false
	}
	if f.AssignedTo != nil && *f.AssignedTo != q.AssignedTo {
		return false
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
