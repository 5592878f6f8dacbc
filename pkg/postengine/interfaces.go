package postengine

import (
	"context"
)

// PostStore defines the interface for post persistence.
type PostStore interface {
	// FindByName returns the post with the given unique name, or ErrPostNotFound.
	FindByName(ctx context.Context, name string) (*Post, error)

	// FindByID returns the post with the given id, or ErrPostNotFound.
	FindByID(ctx context.Context, id int64) (*Post, error)

	// FindByIDs returns the posts that exist among the given ids, keyed by id.
	// Missing ids are simply absent from the map.
	FindByIDs(ctx context.Context, ids []int64) (map[int64]*Post, error)

	// FindByChecksum returns the post owning the given content checksum, or
	// ErrPostNotFound.
	FindByChecksum(ctx context.Context, checksum string) (*Post, error)

	// Save inserts the post (assigning its id) or updates it in place, and
	// returns the persisted state.
	Save(ctx context.Context, post *Post) (*Post, error)

	// DeleteByID removes the post row.
	DeleteByID(ctx context.Context, id int64) error

	// Count returns the total number of posts.
	Count(ctx context.Context) (int64, error)

	// TotalContentSize returns the sum of original file sizes across all posts.
	TotalContentSize(ctx context.Context) (int64, error)
}

// TransactionBoundary demarcates one logical transaction per engine
// operation. Commit persists all store writes made by fn, or rolls all of
// them back when fn returns an error. Rollback runs fn and never persists
// writes regardless of outcome; it is the read-only path.
type TransactionBoundary interface {
	Commit(ctx context.Context, fn func(ctx context.Context) error) error
	Rollback(ctx context.Context, fn func(ctx context.Context) error) error
}

// Validator checks submissions and edits for field-level violations.
type Validator interface {
	// Validate returns a *ValidationError when v violates its constraints.
	Validate(v interface{}) error
}

// TagResolver owns the tag lifecycle consumed by the engine.
type TagResolver interface {
	// ResolveOrCreate normalizes the given tag names into tag entities,
	// creating any that do not exist yet.
	ResolveOrCreate(ctx context.Context, names []string) ([]Tag, error)

	// PruneUnused removes tags no longer attached to any post.
	PruneUnused(ctx context.Context) error

	// RefreshExport rebuilds the cached tag export.
	RefreshExport(ctx context.Context) error
}

// IdentityResolver resolves the caller identity from the ambient session.
// A nil user with a nil error means the caller is anonymous.
type IdentityResolver interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// Fetcher performs outbound downloads for URL-based ingestion.
type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// SnapshotStore persists immutable audit records.
type SnapshotStore interface {
	// Record appends a snapshot. Snapshots are never mutated afterwards.
	Record(ctx context.Context, snapshot *Snapshot) error

	// ListBySubject returns the snapshots for a subject, newest first.
	ListBySubject(ctx context.Context, subjectType string, subjectID int64) ([]*Snapshot, error)
}

// GlobalParamStore holds derived scalars keyed by the well-known Param* keys.
// Values are overwritten on each write; there is no history.
type GlobalParamStore interface {
	// Get returns the current value for key and whether it is set.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set overwrites the value for key.
	Set(ctx context.Context, key, value string) error
}
