package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/query-service/internal/domain"
	apperrors "github.com/spec-kit/query-service/pkg/util/errorutil"
)

type memoryRecord struct {
	mu    sync.Mutex
	query *domain.Query
}

type memoryQueryRepository struct {
	mu       sync.RWMutex
	records  map[string]*memoryRecord
	bySource map[string]string
	now      func() time.Time
}

// NewMemoryQueryRepository builds a process-local store. Each record has its own
// lock, so updates to different queries never wait on each other.
func NewMemoryQueryRepository() QueryRepository {
	return &memoryQueryRepository{
		records:  make(map[string]*memoryRecord),
		bySource: make(map[string]string),
		now:      time.Now,
	}
}

func (r *memoryQueryRepository) Create(ctx context.Context, q *domain.Query) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySource[q.SourceID]; exists {
		return apperrors.NewConflict("sourceId already exists", map[string]any{"sourceId": q.SourceID})
	}

	q.ID = uuid.NewString()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = r.now()
	}
	q.UpdatedAt = q.CreatedAt

	r.records[q.ID] = &memoryRecord{query: q.Clone()}
	r.bySource[q.SourceID] = q.ID
	return nil
}

func (r *memoryQueryRepository) GetByID(ctx context.Context, id string) (*domain.Query, error) {
	rec, err := r.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.query.Clone(), nil
}

func (r *memoryQueryRepository) List(ctx context.Context, filter QueryFilter) ([]domain.Query, error) {
	r.mu.RLock()
	recs := make([]*memoryRecord, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	all := make([]domain.Query, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		snapshot := rec.query.Clone()
		rec.mu.Unlock()
		if filter.matches(snapshot) {
			all = append(all, *snapshot)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	offset := filter.offset()
	if offset >= len(all) {
		return []domain.Query{}, nil
	}
	end := offset + filter.limit()
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *memoryQueryRepository) AtomicUpdate(ctx context.Context, id string, mutate Mutator) (*domain.Query, error) {
	rec, err := r.record(id)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	current := rec.query
	work := current.Clone()
	changed, err := mutate(work)
	if err != nil {
		return nil, err
	}
	if !changed {
		return current.Clone(), nil
	}
	if len(work.History) < len(current.History) {
		return nil, errors.New("history entries cannot be removed")
	}

	// Only the lifecycle fields and appended history are writable.
	next := current.Clone()
	next.Status = work.Status
	next.AssignedTo = work.AssignedTo
	next.ResponseMetrics = work.ResponseMetrics
	next.History = append(next.History, work.History[len(current.History):]...)
	next.UpdatedAt = r.now()

	rec.query = next
	return next.Clone(), nil
}

func (r *memoryQueryRepository) record(id string) (*memoryRecord, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFound("query", map[string]any{"id": id})
	}
	return rec, nil
}
