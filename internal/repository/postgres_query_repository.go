package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/query-service/internal/domain"
	apperrors "github.com/spec-kit/query-service/pkg/util/errorutil"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

const querySelectColumns = `id::text, source_channel, source_id, raw_text, auto_tags, priority, status,
               assigned_to, first_response_seconds, resolution_seconds, created_at, updated_at`

type postgresQueryRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresQueryRepository instantiates the pgx backed store.
func NewPostgresQueryRepository(pool *pgxpool.Pool) QueryRepository {
	return &postgresQueryRepository{pool: pool}
}

func (r *postgresQueryRepository) Create(ctx context.Context, q *domain.Query) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classifyPgError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var createdAt *time.Time
	if !q.CreatedAt.IsZero() {
		createdAt = &q.CreatedAt
	}
	if q.AutoTags == nil {
		q.AutoTags = []string{}
	}

	const insert = `
        INSERT INTO queries (source_channel, source_id, raw_text, auto_tags, priority, status, assigned_to,
            first_response_seconds, resolution_seconds, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,COALESCE($10, NOW()),COALESCE($10, NOW()))
        RETURNING id::text, created_at, updated_at`
	err = tx.QueryRow(ctx, insert,
		q.SourceChannel,
		q.SourceID,
		q.RawText,
		q.AutoTags,
		q.Priority,
		q.Status,
		q.AssignedTo,
		q.ResponseMetrics.FirstResponseTime,
		q.ResponseMetrics.ResolutionTime,
		createdAt,
	).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperrors.NewConflict("sourceId already exists", map[string]any{"sourceId": q.SourceID})
		}
		return classifyPgError(err)
	}

	if err := insertHistory(ctx, tx, q.ID, 0, q.History); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyPgError(err)
	}
	return nil
}

func (r *postgresQueryRepository) GetByID(ctx context.Context, id string) (*domain.Query, error) {
	query := `SELECT ` + querySelectColumns + ` FROM queries WHERE id=$1`
	q, err := scanQuery(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, id)
	}
	history, err := loadHistory(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	q.History = history
	return q, nil
}

func (r *postgresQueryRepository) List(ctx context.Context, filter QueryFilter) ([]domain.Query, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if len(filter.Statuses) > 0 {
		args = append(args, toStrings(filter.Statuses))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(filter.Priorities) > 0 {
		args = append(args, toStrings(filter.Priorities))
		clauses = append(clauses, fmt.Sprintf("priority = ANY($%d)", len(args)))
	}
	if len(filter.Channels) > 0 {
		args = append(args, toStrings(filter.Channels))
		clauses = append(clauses, fmt.Sprintf("source_channel = ANY($%d)", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to = $%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM queries WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		querySelectColumns, strings.Join(clauses, " AND "), filter.limit(), filter.offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	result := []domain.Query{}
	index := map[string]int{}
	ids := []string{}
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		index[q.ID] = len(result)
		ids = append(ids, q.ID)
		result = append(result, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(err)
	}
	if len(ids) == 0 {
		return result, nil
	}

	const historyQuery = `
        SELECT query_id::text, occurred_at, action, details
        FROM query_history WHERE query_id = ANY($1::uuid[]) ORDER BY query_id, seq ASC`
	hrows, err := r.pool.Query(ctx, historyQuery, ids)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer hrows.Close()
	for hrows.Next() {
		var queryID string
		var entry domain.HistoryEntry
		if err := hrows.Scan(&queryID, &entry.Timestamp, &entry.Action, &entry.Details); err != nil {
			return nil, err
		}
		if i, ok := index[queryID]; ok {
			result[i].History = append(result[i].History, entry)
		}
	}
	return result, classifyPgError(hrows.Err())
}

func (r *postgresQueryRepository) AtomicUpdate(ctx context.Context, id string, mutate Mutator) (*domain.Query, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `SELECT ` + querySelectColumns + ` FROM queries WHERE id=$1 FOR UPDATE`
	current, err := scanQuery(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, id)
	}
	if current.History, err = loadHistory(ctx, tx, id); err != nil {
		return nil, err
	}

	work := current.Clone()
	changed, err := mutate(work)
	if err != nil {
		return nil, err
	}
	if !changed {
		return current, nil
	}
	if len(work.History) < len(current.History) {
		return nil, errors.New("history entries cannot be removed")
	}

	const update = `
        UPDATE queries SET status=$1, assigned_to=$2, first_response_seconds=$3, resolution_seconds=$4, updated_at=NOW()
        WHERE id=$5
        RETURNING updated_at`
	if err := tx.QueryRow(ctx, update,
		work.Status,
		work.AssignedTo,
		work.ResponseMetrics.FirstResponseTime,
		work.ResponseMetrics.ResolutionTime,
		id,
	).Scan(&current.UpdatedAt); err != nil {
		return nil, classifyPgError(err)
	}

	appended := work.History[len(current.History):]
	if err := insertHistory(ctx, tx, id, len(current.History), appended); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classifyPgError(err)
	}

	current.Status = work.Status
	current.AssignedTo = work.AssignedTo
	current.ResponseMetrics = work.ResponseMetrics
	current.History = append(current.History, appended...)
	return current, nil
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadHistory(ctx context.Context, db rowQuerier, id string) ([]domain.HistoryEntry, error) {
	const query = `
        SELECT occurred_at, action, details
        FROM query_history WHERE query_id=$1 ORDER BY seq ASC`
	rows, err := db.Query(ctx, query, id)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	history := []domain.HistoryEntry{}
	for rows.Next() {
		var entry domain.HistoryEntry
		if err := rows.Scan(&entry.Timestamp, &entry.Action, &entry.Details); err != nil {
			return nil, err
		}
		history = append(history, entry)
	}
	return history, classifyPgError(rows.Err())
}

func insertHistory(ctx context.Context, tx pgx.Tx, id string, startSeq int, entries []domain.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, entry := range entries {
		batch.Queue(`INSERT INTO query_history (query_id, seq, occurred_at, action, details) VALUES ($1,$2,$3,$4,$5)`,
			id, startSeq+i, entry.Timestamp, entry.Action, entry.Details)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return classifyPgError(err)
	}
	return nil
}

func scanQuery(row pgx.Row) (*domain.Query, error) {
	var q domain.Query
	if err := row.Scan(
		&q.ID,
		&q.SourceChannel,
		&q.SourceID,
		&q.RawText,
		&q.AutoTags,
		&q.Priority,
		&q.Status,
		&q.AssignedTo,
		&q.ResponseMetrics.FirstResponseTime,
		&q.ResponseMetrics.ResolutionTime,
		&q.CreatedAt,
		&q.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &q, nil
}

func toStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func notFoundOr(err error, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("query", map[string]any{"id": id})
	}
	return classifyPgError(err)
}

// classifyPgError tags errors that are safe to retry with ErrTransient. A
// cancelled or expired context is never retryable.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
