package postengine

import (
	"context"
)

// Service defines the main interface for the post-engine library: the
// revision coordinator orchestrating post creation, mutation, deletion,
// featuring, and the derived global counters, each as one atomic commit.
type Service interface {
	// Post revisions
	CreatePost(ctx context.Context, req UploadRequest) (*Post, error)
	UpdatePost(ctx context.Context, post *Post, edit PostEdit) (*Post, error)
	DeletePost(ctx context.Context, post *Post) error
	FeaturePost(ctx context.Context, post *Post) error

	// Derived global counters; triggered explicitly, never implied by
	// create or delete.
	RecomputeGlobals(ctx context.Context) error

	// Read-only lookups
	GetByName(ctx context.Context, name string) (*Post, error)
	GetByNameOrID(ctx context.Context, ref string) (*Post, error)
	GetFeatured(ctx context.Context) (*Post, error)
	GetHistory(ctx context.Context, post *Post) ([]*Snapshot, error)
}
