package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/query-service/internal/classifier"
	"github.com/spec-kit/query-service/internal/domain"
	"github.com/spec-kit/query-service/internal/events"
	"github.com/spec-kit/query-service/internal/observability"
	"github.com/spec-kit/query-service/internal/repository"
	apperrors "github.com/spec-kit/query-service/pkg/util/errorutil"
)

const (
	defaultClassifyTimeout = 3 * time.Second
	defaultStoreRetries    = 3
)

// QueryService applies the query lifecycle: ingestion, status and assignment
// changes, response metrics and change broadcast.
type QueryService struct {
	queries         repository.QueryRepository
	classifier      classifier.Classifier
	publisher       events.Publisher
	logger          *zap.Logger
	metrics         *observability.Metrics
	classifyTimeout time.Duration
	maxRetries      int
	now             func() time.Time
}

// QueryDependencies bundles collaborators for the query service.
type QueryDependencies struct {
	QueryRepo       repository.QueryRepository
	Classifier      classifier.Classifier
	Publisher       events.Publisher
	Logger          *zap.Logger
	Metrics         *observability.Metrics
	ClassifyTimeout time.Duration
	MaxStoreRetries int
	Clock           func() time.Time
}

// IngestInput describes an inbound query.
type IngestInput struct {
	SourceChannel string
	SourceID      string
	RawText       string
}

// UpdateInput describes a lifecycle change. Nil fields are left untouched.
type UpdateInput struct {
	Status     *string
	AssignedTo *string
	Action     string
	Details    string
}

// ListInput narrows a listing.
type ListInput struct {
	Statuses   []string
	Priorities []string
	Channels   []string
	AssignedTo *string
	Limit      int
	Offset     int
}

// NewQueryService constructs the service.
func NewQueryService(deps QueryDependencies) *QueryService {
	s := &QueryService{
		queries:         deps.QueryRepo,
		classifier:      deps.Classifier,
		publisher:       deps.Publisher,
		logger:          deps.Logger,
		metrics:         deps.Metrics,
		classifyTimeout: deps.ClassifyTimeout,
		maxRetries:      deps.MaxStoreRetries,
		now:             deps.Clock,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.classifyTimeout <= 0 {
		s.classifyTimeout = defaultClassifyTimeout
	}
	if s.maxRetries <= 0 {
		s.maxRetries = defaultStoreRetries
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Ingest classifies and stores a new query, then announces it.
func (s *QueryService) Ingest(ctx context.Context, input IngestInput) (*domain.Query, error) {
	rawText := input.RawText
	if strings.TrimSpace(rawText) == "" {
		return nil, apperrors.NewValidationError("raw text is required for query ingestion", map[string]any{"field": "rawText"})
	}

	channel := domain.ChannelSimulated
	if strings.TrimSpace(input.SourceChannel) != "" {
		parsed, ok := domain.ParseSourceChannel(input.SourceChannel)
		if !ok {
			return nil, apperrors.NewValidationError("unknown source channel", map[string]any{"sourceChannel": input.SourceChannel})
		}
		channel = parsed
	}

	result := s.classify(ctx, rawText)

	createdAt := s.now()
	sourceID := strings.TrimSpace(input.SourceID)
	if sourceID == "" {
		sourceID = fmt.Sprintf("%s_%d", channel, createdAt.UnixMilli())
	}

	q := &domain.Query{
		SourceChannel: channel,
		SourceID:      sourceID,
		RawText:       rawText,
		AutoTags:      result.Tags,
		Priority:      result.Priority,
		Status:        domain.StatusNew,
		AssignedTo:    domain.Unassigned,
		CreatedAt:     createdAt,
	}
	q.AppendHistory(createdAt, domain.ActionIngested, fmt.Sprintf("Received from %s", channel))

	if err := s.queries.Create(ctx, q); err != nil {
		return nil, err
	}

	s.logger.Info("query ingested",
		zap.String("query_id", q.ID),
		zap.String("source_channel", string(q.SourceChannel)),
		zap.String("priority", string(q.Priority)),
		zap.Strings("tags", q.AutoTags))
	s.publish(ctx, events.KindCreated, q)
	return q, nil
}

// classify consults the classifier within the configured timeout and
// substitutes the fallback classification on any failure.
func (s *QueryService) classify(ctx context.Context, text string) classifier.Result {
	fallback := classifier.Result{
		Tags:     []string{domain.ClassificationFailedTag},
		Priority: domain.PriorityLow,
	}
	if s.classifier == nil {
		s.metrics.RecordClassificationFallback("not_configured")
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, s.classifyTimeout)
	defer cancel()

	result, err := s.classifier.Classify(ctx, text)
	if err == nil {
		err = result.Validate()
	}
	if err != nil {
		reason := "unavailable"
		switch {
		case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
			reason = "timeout"
		case errors.Is(err, classifier.ErrMalformedResponse):
			reason = "malformed"
		}
		s.metrics.RecordClassificationFallback(reason)
		s.logger.Warn("classification failed; using fallback",
			zap.String("reason", reason),
			zap.Error(err))
		return fallback
	}
	priority, _ := domain.ParsePriority(string(result.Priority))
	return classifier.Result{Tags: append([]string(nil), result.Tags...), Priority: priority}
}

// Update changes status and/or assignee atomically and records history and metrics.
func (s *QueryService) Update(ctx context.Context, rawID string, input UpdateInput) (*domain.Query, error) {
	id, err := validateID(rawID)
	if err != nil {
		return nil, err
	}

	var newStatus *domain.QueryStatus
	if input.Status != nil && strings.TrimSpace(*input.Status) != "" {
		parsed, ok := domain.ParseStatus(*input.Status)
		if !ok {
			return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": *input.Status})
		}
		newStatus = &parsed
	}

	var newAssignee *string
	if input.AssignedTo != nil {
		normalized := normalizeAssignee(*input.AssignedTo)
		newAssignee = &normalized
	}

	action := strings.TrimSpace(input.Action)
	details := strings.TrimSpace(input.Details)

	mutate := func(q *domain.Query) (bool, error) {
		now := s.now()
		changed := false

		if newStatus != nil && *newStatus != q.Status {
			entryAction := firstNonEmpty(action, domain.ActionStatusChanged)
			entryDetails := firstNonEmpty(details, domain.DefaultChangeDetails)
			elapsed := now.Sub(q.CreatedAt).Seconds()

			if q.Status == domain.StatusNew && *newStatus == domain.StatusInProgress && q.ResponseMetrics.FirstResponseTime == nil {
				q.ResponseMetrics.FirstResponseTime = &elapsed
				entryDetails += fmt.Sprintf(" (First response time recorded: %.2fs)", elapsed)
			}
			if *newStatus == domain.StatusResolved && q.ResponseMetrics.ResolutionTime == nil {
				resolved := elapsed
				q.ResponseMetrics.ResolutionTime = &resolved
				entryDetails += fmt.Sprintf(" (Resolution time recorded: %.2fs)", elapsed)
			}

			q.Status = *newStatus
			q.AppendHistory(now, entryAction, entryDetails)
			changed = true
		}

		if newAssignee != nil && *newAssignee != q.AssignedTo {
			q.AssignedTo = *newAssignee
			if *newAssignee == domain.Unassigned {
				q.AppendHistory(now, domain.ActionUnassigned, "Unassigned")
			} else {
				q.AppendHistory(now, domain.ActionAssigned, fmt.Sprintf("Assigned to: %s", *newAssignee))
			}
			changed = true
		}

		if !changed && (action != "" || details != "") {
			q.AppendHistory(now, firstNonEmpty(action, domain.ActionUpdate), firstNonEmpty(details, domain.DefaultChangeDetails))
			changed = true
		}
		return changed, nil
	}

	before, updated, err := s.atomicUpdate(ctx, id, mutate)
	if err != nil {
		return nil, err
	}
	if len(updated.History) == before {
		return updated, nil
	}

	s.logger.Info("query updated",
		zap.String("query_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.String("assigned_to", updated.AssignedTo),
		zap.Int("history_entries", len(updated.History)-before))
	s.publish(ctx, events.KindUpdated, updated)
	return updated, nil
}

// atomicUpdate retries transient store failures with the same mutator. It also
// reports the history length the winning attempt started from.
func (s *QueryService) atomicUpdate(ctx context.Context, id string, mutate repository.Mutator) (int, *domain.Query, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		before := -1
		updated, err := s.queries.AtomicUpdate(ctx, id, func(q *domain.Query) (bool, error) {
			before = len(q.History)
			return mutate(q)
		})
		if err == nil {
			if before < 0 {
				before = len(updated.History)
			}
			return before, updated, nil
		}
		if !errors.Is(err, repository.ErrTransient) {
			return 0, nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, fmt.Errorf("update query %s: %w", id, ctxErr)
		}
		lastErr = err
		s.logger.Warn("transient store failure; retrying update",
			zap.String("query_id", id),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return 0, nil, apperrors.NewInternalError(fmt.Errorf("update query %s: %w", id, lastErr))
}

// Get fetches a single query.
func (s *QueryService) Get(ctx context.Context, rawID string) (*domain.Query, error) {
	id, err := validateID(rawID)
	if err != nil {
		return nil, err
	}
	return s.queries.GetByID(ctx, id)
}

// List returns queries newest first.
func (s *QueryService) List(ctx context.Context, input ListInput) ([]domain.Query, error) {
	filter := repository.QueryFilter{
		AssignedTo: input.AssignedTo,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}
	if filter.AssignedTo != nil {
		normalized := normalizeAssignee(*filter.AssignedTo)
		filter.AssignedTo = &normalized
	}
	for _, raw := range input.Statuses {
		status, ok := domain.ParseStatus(raw)
		if !ok {
			return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": raw})
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, raw := range input.Priorities {
		priority, ok := domain.ParsePriority(raw)
		if !ok {
			return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": raw})
		}
		filter.Priorities = append(filter.Priorities, priority)
	}
	for _, raw := range input.Channels {
		channel, ok := domain.ParseSourceChannel(raw)
		if !ok {
			return nil, apperrors.NewValidationError("unknown source channel", map[string]any{"sourceChannel": raw})
		}
		filter.Channels = append(filter.Channels, channel)
	}
	return s.queries.List(ctx, filter)
}

func (s *QueryService) publish(ctx context.Context, kind events.EventKind, q *domain.Query) {
	if s.publisher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("publisher panicked", zap.Any("panic", r), zap.String("query_id", q.ID))
		}
	}()
	s.publisher.Publish(ctx, events.NewEventAt(kind, q, s.now()))
}

// validateID returns the canonical lowercase hyphenated form of id, the form
// every store keys records by.
func validateID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", apperrors.NewInvalidID(id)
	}
	return parsed.String(), nil
}

func normalizeAssignee(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.Unassigned
	}
	return trimmed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
