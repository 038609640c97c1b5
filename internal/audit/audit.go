// Package audit keeps an append-only history of domain events per aggregate.
// Entries are versioned per aggregate so concurrent writers cannot interleave
// a stream.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"shelfwise/internal/domain"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

var json = jsoniter.ConfigFastest

// Entry is one recorded event.
type Entry struct {
	ID            int64               `json:"id" db:"id"`
	AggregateID   uuid.UUID           `json:"aggregateId" db:"aggregate_id"`
	AggregateType string              `json:"aggregateType" db:"aggregate_type"`
	EventType     string              `json:"eventType" db:"event_type"`
	Data          jsoniter.RawMessage `json:"data" db:"event_data"`
	Actor         string              `json:"actor,omitempty" db:"actor"`
	Version       int                 `json:"version" db:"version"`
	OccurredAt    time.Time           `json:"occurredAt" db:"occurred_at"`
}

// Log is the storage behind the history.
type Log interface {
	// Append writes entries after expectedVersion. It fails with
	// ErrConcurrencyConflict when the stream has moved on.
	Append(ctx context.Context, aggregateID uuid.UUID, expectedVersion int, entries []Entry) error
	// Load returns the stream from fromVersion, up to toVersion when it is
	// positive.
	Load(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Entry, error)
	CurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error)
	// Stream pages through every entry in insertion order.
	Stream(ctx context.Context, afterID int64, batchSize int) ([]Entry, error)
}

// NewEntry serialises a domain event.
func NewEntry(e domain.Event, actor string) (Entry, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}
	return Entry{
		AggregateID:   e.AggregateID(),
		AggregateType: aggregateType(e.EventType()),
		EventType:     string(e.EventType()),
		Data:          data,
		Actor:         actor,
		OccurredAt:    e.OccurredAt().UTC(),
	}, nil
}

// aggregateType maps "catalog.book.added" to "book".
func aggregateType(t domain.EventType) string {
	parts := strings.Split(string(t), ".")
	if len(parts) >= 2 {
		return parts[1]
	}
	return string(t)
}

const appendAttempts = 3

// Recorder appends every published event to a Log.
type Recorder struct {
	log    Log
	logger *slog.Logger
	actor  func(context.Context) string
}

func NewRecorder(log Log, logger *slog.Logger, actor func(context.Context) string) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if actor == nil {
		actor = func(context.Context) string { return "" }
	}
	return &Recorder{log: log, logger: logger, actor: actor}
}

// Handle has the events.Handler signature. A version conflict means another
// writer appended to the same stream first, so it re-reads and retries.
func (r *Recorder) Handle(ctx context.Context, e domain.Event) error {
	entry, err := NewEntry(e, r.actor(ctx))
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		version, err := r.log.CurrentVersion(ctx, entry.AggregateID)
		if err != nil {
			return fmt.Errorf("audit version: %w", err)
		}
		err = r.log.Append(ctx, entry.AggregateID, version, []Entry{entry})
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) || attempt == appendAttempts {
			return fmt.Errorf("audit append: %w", err)
		}
		r.logger.DebugContext(ctx, "audit append conflict, retrying",
			"aggregate_id", entry.AggregateID, "attempt", attempt)
	}
}

// History returns an aggregate's full stream.
func History(ctx context.Context, log Log, aggregateID uuid.UUID) ([]Entry, error) {
	entries, err := log.Load(ctx, aggregateID, 1, 0)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
