// Package store provides the PostgreSQL implementation of the event
// repository port.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/formsentry/formsentry/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be exercised with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists detection events in the detection_events table.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the detection_events table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	sql := `
        CREATE TABLE IF NOT EXISTS detection_events (
            id              TEXT PRIMARY KEY,
            verdict         TEXT NOT NULL,
            confidence      DOUBLE PRECISION NOT NULL,
            reason          TEXT NOT NULL,
            recommendation  TEXT NOT NULL,
            matched_rule_id TEXT NOT NULL DEFAULT '',
            request_id      TEXT NOT NULL,
            request_type    TEXT NOT NULL,
            target_domain   TEXT NOT NULL,
            current_domain  TEXT NOT NULL,
            observed_at     TIMESTAMPTZ NOT NULL
        );
    `
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to create detection_events table: %w", err)
	}
	return nil
}

// Save inserts one detection event. Timestamps are stored in UTC.
func (s *Store) Save(ctx context.Context, event schemas.DetectionEvent) error {
	sql := `
        INSERT INTO detection_events
            (id, verdict, confidence, reason, recommendation, matched_rule_id,
             request_id, request_type, target_domain, current_domain, observed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
    `
	_, err := s.pool.Exec(ctx, sql,
		event.ID, string(event.Verdict), event.Confidence, event.Reason,
		string(event.Recommendation), event.MatchedRuleID,
		event.RequestID, string(event.RequestType),
		event.TargetDomain, event.CurrentDomain, event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert detection event: %w", err)
	}
	return nil
}

const selectColumns = `id, verdict, confidence, reason, recommendation, matched_rule_id,
        request_id, request_type, target_domain, current_domain, observed_at`

// FindRecent returns the newest events, most recent first.
func (s *Store) FindRecent(ctx context.Context, limit int) ([]schemas.DetectionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	sql := fmt.Sprintf(`SELECT %s FROM detection_events ORDER BY observed_at DESC LIMIT $1;`, selectColumns)
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// FindByFilter returns events matching the filter, most recent first.
func (s *Store) FindByFilter(ctx context.Context, filter schemas.EventFilter) ([]schemas.DetectionEvent, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Verdict != nil {
		args = append(args, string(*filter.Verdict))
		conditions = append(conditions, fmt.Sprintf("verdict = $%d", len(args)))
	}
	if filter.Domain != "" {
		args = append(args, filter.Domain)
		conditions = append(conditions, fmt.Sprintf("target_domain = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	sql := fmt.Sprintf(`SELECT %s FROM detection_events`, selectColumns)
	if len(conditions) > 0 {
		sql += " WHERE " + strings.Join(conditions, " AND ")
	}
	sql += fmt.Sprintf(" ORDER BY observed_at DESC LIMIT $%d;", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by filter: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// DeleteAll removes every stored event.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM detection_events;`); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}

// DeleteOlderThan removes events observed before the cutoff and returns the
// number deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM detection_events WHERE observed_at < $1;`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PruneExpired applies the retention policy from settings.
func (s *Store) PruneExpired(ctx context.Context, retentionHours int) (int64, error) {
	if retentionHours <= 0 {
		return 0, fmt.Errorf("retention hours must be positive, got %d", retentionHours)
	}
	cutoff := time.Now().UTC().Add(-time.Duration(retentionHours) * time.Hour)
	deleted, err := s.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.log.Info("Pruned expired detection events",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

func scanEvents(rows pgx.Rows) ([]schemas.DetectionEvent, error) {
	var events []schemas.DetectionEvent
	for rows.Next() {
		var (
			e              schemas.DetectionEvent
			verdict        string
			recommendation string
			requestType    string
		)
		err := rows.Scan(
			&e.ID, &verdict, &e.Confidence, &e.Reason, &recommendation,
			&e.MatchedRuleID, &e.RequestID, &requestType,
			&e.TargetDomain, &e.CurrentDomain, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.Verdict = schemas.Verdict(verdict)
		e.Recommendation = schemas.Recommendation(recommendation)
		e.RequestType = schemas.RequestType(requestType)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return events, nil
}

var _ schemas.EventRepository = (*Store)(nil)
