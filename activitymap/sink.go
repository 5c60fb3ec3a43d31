package activitymap

import (
	"context"
	"sync"
	"time"

	auth "github.com/evprediag/go-station-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Record is a Normalized activity persisted in the activity_log table.
type Record struct {
	bun.BaseModel `bun:"table:activity_log,alias:al"`
	ID            uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	ActorID       string         `bun:"actor_id,notnull" json:"actor_id"`
	Verb          string         `bun:"verb,notnull" json:"verb"`
	ObjectType    string         `bun:"object_type" json:"object_type,omitempty"`
	ObjectID      string         `bun:"object_id" json:"object_id,omitempty"`
	Channel       string         `bun:"channel" json:"channel,omitempty"`
	Metadata      map[string]any `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull" json:"occurred_at"`
}

// RecordFrom wraps a Normalized activity with a fresh id.
func RecordFrom(n Normalized) *Record {
	return &Record{
		ID:         uuid.New(),
		ActorID:    n.ActorID,
		Verb:       n.Verb,
		ObjectType: n.ObjectType,
		ObjectID:   n.ObjectID,
		Channel:    n.Channel,
		Metadata:   n.Metadata,
		OccurredAt: n.OccurredAt,
	}
}

// BunSink is an auth.ActivitySink writing normalized records through bun.
type BunSink struct {
	db   bun.IDB
	opts []Option
}

var _ auth.ActivitySink = (*BunSink)(nil)

func NewBunSink(db bun.IDB, opts ...Option) *BunSink {
	return &BunSink{db: db, opts: opts}
}

func (s *BunSink) Record(ctx context.Context, event auth.ActivityEvent) error {
	record := RecordFrom(Normalize(event, s.opts...))
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist activity record").
			WithMetadata(map[string]any{"verb": record.Verb})
	}
	return nil
}

// List returns the newest records first, at most limit of them.
func (s *BunSink) List(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	q := s.db.NewSelect().Model(&records).OrderExpr("?TableAlias.occurred_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list activity records")
	}
	return records, nil
}

// MemorySink keeps normalized records in memory.
type MemorySink struct {
	mu      sync.Mutex
	opts    []Option
	records []Normalized
}

var _ auth.ActivitySink = (*MemorySink)(nil)

func NewMemorySink(opts ...Option) *MemorySink {
	return &MemorySink{opts: opts}
}

func (s *MemorySink) Record(_ context.Context, event auth.ActivityEvent) error {
	n := Normalize(event, s.opts...)
	s.mu.Lock()
	s.records = append(s.records, n)
	s.mu.Unlock()
	return nil
}

// Records returns a copy of everything recorded so far, oldest first.
func (s *MemorySink) Records() []Normalized {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Normalized, len(s.records))
	copy(out, s.records)
	return out
}
