package postengine

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// nameRetryLimit caps the unique-name generation loop. Token entropy makes
// collisions negligible, so exhaustion signals a broken store rather than
// contention.
const nameRetryLimit = 256

// service implements the Service interface
type service struct {
	cfg       Config
	tx        TransactionBoundary
	posts     PostStore
	snapshots SnapshotStore
	params    GlobalParamStore
	tags      TagResolver
	validator Validator
	identity  IdentityResolver
	fetcher   Fetcher
	ingestor  *Ingestor
	now       func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithConfig sets the content policy limits.
func WithConfig(cfg Config) Option {
	return func(s *service) { s.cfg = cfg }
}

// WithTransactionBoundary sets the transaction boundary for the service
func WithTransactionBoundary(tx TransactionBoundary) Option {
	return func(s *service) { s.tx = tx }
}

// WithPostStore sets the post store for the service
func WithPostStore(store PostStore) Option {
	return func(s *service) { s.posts = store }
}

// WithSnapshotStore sets the snapshot store for the service
func WithSnapshotStore(store SnapshotStore) Option {
	return func(s *service) { s.snapshots = store }
}

// WithGlobalParamStore sets the global parameter store for the service
func WithGlobalParamStore(store GlobalParamStore) Option {
	return func(s *service) { s.params = store }
}

// WithTagResolver sets the tag resolver for the service
func WithTagResolver(resolver TagResolver) Option {
	return func(s *service) { s.tags = resolver }
}

// WithValidator sets the validator for the service
func WithValidator(v Validator) Option {
	return func(s *service) { s.validator = v }
}

// WithIdentityResolver sets the identity resolver for the service
func WithIdentityResolver(resolver IdentityResolver) Option {
	return func(s *service) { s.identity = resolver }
}

// WithFetcher sets the outbound fetcher for URL-based ingestion
func WithFetcher(fetcher Fetcher) Option {
	return func(s *service) { s.fetcher = fetcher }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// New creates a new service instance with the given options.
//
// A post store, transaction boundary, snapshot store, global parameter store
// and tag resolver are required. The validator, identity resolver, fetcher
// and limits default to the struct-tag validator, anonymous identity, an
// HTTP fetcher and DefaultConfig respectively.
func New(options ...Option) (Service, error) {
	s := &service{
		cfg: DefaultConfig(),
		now: func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(s)
	}

	if s.posts == nil {
		return nil, fmt.Errorf("post store is required")
	}
	if s.tx == nil {
		return nil, fmt.Errorf("transaction boundary is required")
	}
	if s.snapshots == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if s.params == nil {
		return nil, fmt.Errorf("global parameter store is required")
	}
	if s.tags == nil {
		return nil, fmt.Errorf("tag resolver is required")
	}
	if s.validator == nil {
		s.validator = NewValidator()
	}
	if s.identity == nil {
		s.identity = NewAnonymousIdentity()
	}
	if s.fetcher == nil {
		s.fetcher = NewHTTPFetcher(nil)
	}

	s.ingestor = NewIngestor(s.cfg, s.posts, s.fetcher)
	return s, nil
}

// Post revisions

func (s *service) CreatePost(ctx context.Context, req UploadRequest) (*Post, error) {
	var created *Post
	err := s.tx.Commit(ctx, func(ctx context.Context) error {
		if err := s.validator.Validate(req); err != nil {
			return err
		}

		now := s.now()
		post := &Post{
			UploadTime:       now,
			LastEditTime:     now,
			OriginalFileName: req.FileName,
			Safety:           req.Safety,
			Source:           req.Source,
		}

		if !req.Anonymous {
			user, err := s.identity.CurrentUser(ctx)
			if err != nil {
				return err
			}
			if user != nil {
				post.UserID = &user.ID
			}
		}

		name, err := s.uniquePostName(ctx)
		if err != nil {
			return err
		}
		post.Name = name

		tags, err := s.tags.ResolveOrCreate(ctx, req.Tags)
		if err != nil {
			return err
		}
		post.Tags = tags

		var desc *ContentDescriptor
		switch {
		case req.URL != "":
			desc, err = s.ingestor.IngestURL(ctx, 0, req.URL)
		case len(req.Content) > 0:
			desc, err = s.ingestor.IngestBytes(ctx, 0, req.Content)
		default:
			return ErrNoContentSpecified
		}
		if err != nil {
			return err
		}
		applyDescriptor(post, desc)

		saved, err := s.posts.Save(ctx, post)
		if err != nil {
			return err
		}

		if err := s.recordSnapshot(ctx, saved, SnapshotOperationCreate); err != nil {
			return err
		}
		created = saved
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.tagHousekeeping(ctx)
	return created, nil
}

func (s *service) UpdatePost(ctx context.Context, post *Post, edit PostEdit) (*Post, error) {
	var updated *Post
	err := s.tx.Commit(ctx, func(ctx context.Context) error {
		if err := s.validator.Validate(edit); err != nil {
			return err
		}

		// The token check runs before any field is touched or content
		// re-ingested, so a doomed commit does no wasted work.
		if !post.LastEditTime.Equal(edit.SeenEditTime) {
			return ErrConcurrentModification
		}

		next := post.Clone()
		next.LastEditTime = s.now()

		if edit.Content != nil {
			desc, err := s.ingestor.IngestBytes(ctx, next.ID, edit.Content)
			if err != nil {
				return err
			}
			applyDescriptor(next, desc)
		}

		if edit.Thumbnail != nil {
			thumbnail, err := s.ingestor.IngestThumbnail(edit.Thumbnail)
			if err != nil {
				return err
			}
			next.ThumbnailSource = thumbnail
		}

		if edit.Safety != nil {
			next.Safety = *edit.Safety
		}

		if edit.Source != nil {
			next.Source = *edit.Source
		}

		if edit.Tags != nil {
			tags, err := s.tags.ResolveOrCreate(ctx, edit.Tags)
			if err != nil {
				return err
			}
			next.Tags = tags
		}

		if edit.Relations != nil {
			if err := s.resolveRelations(ctx, next, edit.Relations); err != nil {
				return err
			}
		}

		saved, err := s.posts.Save(ctx, next)
		if err != nil {
			return err
		}

		if err := s.recordSnapshot(ctx, saved, SnapshotOperationModify); err != nil {
			return err
		}
		updated = saved
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.tagHousekeeping(ctx)
	return updated, nil
}

func (s *service) DeletePost(ctx context.Context, post *Post) error {
	// The snapshot is recorded before the row disappears so the audit trail
	// retains the post's final state.
	return s.tx.Commit(ctx, func(ctx context.Context) error {
		if err := s.recordSnapshot(ctx, post, SnapshotOperationDelete); err != nil {
			return err
		}
		return s.posts.DeleteByID(ctx, post.ID)
	})
}

func (s *service) FeaturePost(ctx context.Context, post *Post) error {
	return s.tx.Commit(ctx, func(ctx context.Context) error {
		previous, err := s.findFeatured(ctx)
		if err != nil {
			return err
		}

		next := post.Clone()
		now := s.now()
		next.LastFeatureTime = &now
		next.FeatureCount++

		saved, err := s.posts.Save(ctx, next)
		if err != nil {
			return err
		}
		if err := s.params.Set(ctx, ParamFeaturedPost, strconv.FormatInt(saved.ID, 10)); err != nil {
			return err
		}

		// The previously featured post implicitly lost its feature status,
		// which is a state change worth its own audit record.
		if previous != nil && previous.ID != saved.ID {
			if err := s.recordSnapshot(ctx, previous, SnapshotOperationModify); err != nil {
				return err
			}
		}
		return s.recordSnapshot(ctx, saved, SnapshotOperationModify)
	})
}

// Derived global counters

func (s *service) RecomputeGlobals(ctx context.Context) error {
	return s.tx.Commit(ctx, func(ctx context.Context) error {
		count, err := s.posts.Count(ctx)
		if err != nil {
			return err
		}
		if err := s.params.Set(ctx, ParamPostCount, strconv.FormatInt(count, 10)); err != nil {
			return err
		}

		size, err := s.posts.TotalContentSize(ctx)
		if err != nil {
			return err
		}
		return s.params.Set(ctx, ParamPostSize, strconv.FormatInt(size, 10))
	})
}

// Read-only lookups

func (s *service) GetByName(ctx context.Context, name string) (*Post, error) {
	var post *Post
	err := s.tx.Rollback(ctx, func(ctx context.Context) error {
		var err error
		post, err = s.posts.FindByName(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (s *service) GetByNameOrID(ctx context.Context, ref string) (*Post, error) {
	var post *Post
	err := s.tx.Rollback(ctx, func(ctx context.Context) error {
		var err error
		post, err = s.findByNameOrID(ctx, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (s *service) GetFeatured(ctx context.Context) (*Post, error) {
	var post *Post
	err := s.tx.Rollback(ctx, func(ctx context.Context) error {
		var err error
		post, err = s.findFeatured(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (s *service) GetHistory(ctx context.Context, post *Post) ([]*Snapshot, error) {
	var history []*Snapshot
	err := s.tx.Rollback(ctx, func(ctx context.Context) error {
		var err error
		history, err = s.snapshots.ListBySubject(ctx, SnapshotSubjectPost, post.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// Helper methods

func (s *service) findByNameOrID(ctx context.Context, ref string) (*Post, error) {
	post, err := s.posts.FindByName(ctx, ref)
	if err == nil {
		return post, nil
	}
	if !errors.Is(err, ErrPostNotFound) {
		return nil, err
	}
	id, parseErr := strconv.ParseInt(ref, 10, 64)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %q", ErrPostNotFound, ref)
	}
	return s.posts.FindByID(ctx, id)
}

// findFeatured returns the currently featured post, or nil when no featured
// pointer is set.
func (s *service) findFeatured(ctx context.Context) (*Post, error) {
	value, ok, err := s.params.Get(ctx, ParamFeaturedPost)
	if err != nil || !ok {
		return nil, err
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed %s param %q: %w", ParamFeaturedPost, value, err)
	}
	post, err := s.posts.FindByID(ctx, id)
	if errors.Is(err, ErrPostNotFound) {
		// A stale pointer to a deleted post means nothing is featured.
		return nil, nil
	}
	return post, err
}

func (s *service) resolveRelations(ctx context.Context, post *Post, relations []int64) error {
	found, err := s.posts.FindByIDs(ctx, relations)
	if err != nil {
		return err
	}
	// The whole relation set is rejected when any id dangles.
	for _, id := range relations {
		if _, ok := found[id]; !ok {
			return &RelatedPostNotFoundError{PostID: id}
		}
	}
	post.RelatedPostIDs = append([]int64(nil), relations...)
	return nil
}

func (s *service) recordSnapshot(ctx context.Context, post *Post, op SnapshotOperation) error {
	return s.snapshots.Record(ctx, &Snapshot{
		ID:          uuid.New(),
		SubjectID:   post.ID,
		SubjectType: SnapshotSubjectPost,
		Operation:   op,
		State:       snapshotState(post),
		CreatedAt:   s.now(),
	})
}

// snapshotState captures a field-level copy of the post; the snapshot never
// references live post state after capture.
func snapshotState(post *Post) map[string]interface{} {
	tags := make([]string, len(post.Tags))
	for i, tag := range post.Tags {
		tags[i] = tag.Name
	}
	return map[string]interface{}{
		"name":               post.Name,
		"checksum":           post.Checksum,
		"mime_type":          post.MimeType,
		"kind":               string(post.Kind),
		"safety":             string(post.Safety),
		"source":             post.Source,
		"original_file_name": post.OriginalFileName,
		"tags":               tags,
		"relations":          append([]int64(nil), post.RelatedPostIDs...),
		"feature_count":      post.FeatureCount,
	}
}

func (s *service) uniquePostName(ctx context.Context) (string, error) {
	for i := 0; i < nameRetryLimit; i++ {
		name := randomPostName()
		_, err := s.posts.FindByName(ctx, name)
		if errors.Is(err, ErrPostNotFound) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
		// Collision; generate another token.
	}
	return "", ErrNameGenerationExhausted
}

func randomPostName() string {
	seed := uuid.NewString() + strconv.FormatInt(time.Now().UnixNano(), 10)
	sum := sha1.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// tagHousekeeping runs the best-effort post-commit side effects: pruning
// tags the commit left unused and refreshing the cached tag export. Failures
// never affect the already-committed operation.
func (s *service) tagHousekeeping(ctx context.Context) {
	_ = s.tags.PruneUnused(ctx)
	_ = s.tags.RefreshExport(ctx)
}

func applyDescriptor(post *Post, desc *ContentDescriptor) {
	post.MimeType = desc.MimeType
	post.Kind = desc.Kind
	post.Checksum = desc.Checksum
	post.Content = desc.Data
	post.OriginalFileSize = desc.FileSize
	post.ImageWidth = desc.ImageWidth
	post.ImageHeight = desc.ImageHeight
	if desc.FileName != "" {
		post.OriginalFileName = desc.FileName
	}
	if desc.ThumbnailSource != nil {
		post.ThumbnailSource = desc.ThumbnailSource
	}
}
