package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists the append-only market event log.
type EventStore interface {
	Append(ctx context.Context, events []Event) error
	ListByEntity(ctx context.Context, entityType string, entityID uint64, opts ListOpts) ([]Event, error)
	List(ctx context.Context, opts ListOpts) ([]Event, error)
	LastSeq(ctx context.Context) (uint64, error)
}

// SnapshotStore persists engine snapshots. Latest returns ErrNotFound when
// nothing has been saved yet.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Latest(ctx context.Context) (Snapshot, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log. event filters List by entry
// name; empty matches all.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, event string, opts ListOpts) ([]AuditEntry, error)
}
