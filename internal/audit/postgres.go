package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PostgresLog stores entries in the audit_events table.
type PostgresLog struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewPostgresLog(db *sqlx.DB) *PostgresLog {
	return &PostgresLog{
		db:     db,
		tracer: otel.Tracer("shelfwise/audit"),
	}
}

const versionQuery = `
	SELECT COALESCE(MAX(version), 0)
	FROM audit_events
	WHERE aggregate_id = $1`

func (l *PostgresLog) Append(ctx context.Context, aggregateID uuid.UUID, expectedVersion int, entries []Entry) error {
	ctx, span := l.tracer.Start(ctx, "audit.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(entries)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	tx, err := l.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	if err := tx.GetContext(ctx, &current, versionQuery, aggregateID); err != nil {
		return fmt.Errorf("query current version: %w", err)
	}
	if current != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", current),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	for i, e := range entries {
		version := expectedVersion + i + 1
		var id int64
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO audit_events (aggregate_id, aggregate_type, event_type, event_data, actor, version, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			aggregateID, e.AggregateType, e.EventType, []byte(e.Data), e.Actor, version, e.OccurredAt,
		).Scan(&id)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert audit event %d: %w", i, err)
		}
		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", id),
			attribute.Int("event.version", version),
			attribute.String("event.type", e.EventType),
		))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const selectEntries = `
	SELECT id, aggregate_id, aggregate_type, event_type, event_data, actor, version, occurred_at
	FROM audit_events`

func (l *PostgresLog) Load(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Entry, error) {
	ctx, span := l.tracer.Start(ctx, "audit.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	query := selectEntries + " WHERE aggregate_id = $1 AND version >= $2"
	args := []any{aggregateID, fromVersion}
	if toVersion > 0 {
		query += " AND version <= $3"
		args = append(args, toVersion)
	}
	query += " ORDER BY version ASC"

	var entries []Entry
	if err := l.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	span.SetAttributes(attribute.Int("events.loaded", len(entries)))
	return entries, nil
}

func (l *PostgresLog) CurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	ctx, span := l.tracer.Start(ctx, "audit.current_version",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	var version int
	if err := l.db.GetContext(ctx, &version, versionQuery, aggregateID); err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

func (l *PostgresLog) Stream(ctx context.Context, afterID int64, batchSize int) ([]Entry, error) {
	ctx, span := l.tracer.Start(ctx, "audit.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", afterID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	var entries []Entry
	err := l.db.SelectContext(ctx, &entries, selectEntries+" WHERE id > $1 ORDER BY id ASC LIMIT $2", afterID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("query audit stream: %w", err)
	}
	span.SetAttributes(attribute.Int("events.streamed", len(entries)))
	return entries, nil
}

var _ Log = (*PostgresLog)(nil)
