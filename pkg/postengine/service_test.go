package postengine_test

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/post-engine/pkg/postengine"
	"github.com/tendant/post-engine/pkg/postengine/repo/memory"
)

type testEnv struct {
	svc     postengine.Service
	repo    *memory.Repository
	fetcher *fakeFetcher
	clock   *fakeClock
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func setupTestService(t *testing.T, options ...postengine.Option) *testEnv {
	t.Helper()

	repo := memory.New()
	fetcher := newFakeFetcher()
	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	base := []postengine.Option{
		postengine.WithPostStore(repo),
		postengine.WithSnapshotStore(repo),
		postengine.WithGlobalParamStore(repo),
		postengine.WithTagResolver(repo),
		postengine.WithTransactionBoundary(memory.NewBoundary(repo)),
		postengine.WithFetcher(fetcher),
		postengine.WithClock(clock.now),
	}
	svc, err := postengine.New(append(base, options...)...)
	require.NoError(t, err)
	require.NotNil(t, svc)

	return &testEnv{svc: svc, repo: repo, fetcher: fetcher, clock: clock}
}

func uploadFixture() postengine.UploadRequest {
	return postengine.UploadRequest{
		Content:  jpegHeader,
		FileName: "cat.jpg",
		Safety:   postengine.SafetySafe,
		Source:   "the internet",
		Tags:     []string{"cat", "cute"},
	}
}

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name        string
		options     func(repo *memory.Repository) []postengine.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     func(repo *memory.Repository) []postengine.Option { return nil },
			expectError: true,
		},
		{
			name: "post store alone should fail",
			options: func(repo *memory.Repository) []postengine.Option {
				return []postengine.Option{postengine.WithPostStore(repo)}
			},
			expectError: true,
		},
		{
			name: "all required stores should succeed",
			options: func(repo *memory.Repository) []postengine.Option {
				return []postengine.Option{
					postengine.WithPostStore(repo),
					postengine.WithSnapshotStore(repo),
					postengine.WithGlobalParamStore(repo),
					postengine.WithTagResolver(repo),
					postengine.WithTransactionBoundary(memory.NewBoundary(repo)),
				}
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := postengine.New(tt.options(memory.New())...)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func TestCreatePost(t *testing.T) {
	ctx := context.Background()

	t.Run("from bytes", func(t *testing.T) {
		env := setupTestService(t)

		post, err := env.svc.CreatePost(ctx, uploadFixture())
		require.NoError(t, err)

		assert.NotZero(t, post.ID)
		assert.Len(t, post.Name, 40) // hex-encoded SHA-1 token
		sum := sha1.Sum(jpegHeader)
		assert.Equal(t, hex.EncodeToString(sum[:]), post.Checksum)
		assert.Equal(t, "image/jpeg", post.MimeType)
		assert.Equal(t, postengine.MediaKindImage, post.Kind)
		assert.Equal(t, "cat.jpg", post.OriginalFileName)
		assert.Equal(t, postengine.SafetySafe, post.Safety)
		assert.Equal(t, "the internet", post.Source)
		assert.Equal(t, env.clock.current, post.UploadTime)
		assert.Equal(t, env.clock.current, post.LastEditTime)

		require.Len(t, post.Tags, 2)
		assert.Equal(t, "cat", post.Tags[0].Name)
		assert.Equal(t, "cute", post.Tags[1].Name)

		// Anonymous by default: no identity resolver was configured.
		assert.Nil(t, post.UserID)

		history, err := env.svc.GetHistory(ctx, post)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, postengine.SnapshotOperationCreate, history[0].Operation)
		assert.Equal(t, post.ID, history[0].SubjectID)
		assert.Equal(t, postengine.SnapshotSubjectPost, history[0].SubjectType)
	})

	t.Run("with resolved identity", func(t *testing.T) {
		env := setupTestService(t, postengine.WithIdentityResolver(
			postengine.NewStaticIdentity(postengine.User{ID: 7, Name: "uploader"})))

		post, err := env.svc.CreatePost(ctx, uploadFixture())
		require.NoError(t, err)
		require.NotNil(t, post.UserID)
		assert.Equal(t, int64(7), *post.UserID)
	})

	t.Run("anonymous flag suppresses identity", func(t *testing.T) {
		env := setupTestService(t, postengine.WithIdentityResolver(
			postengine.NewStaticIdentity(postengine.User{ID: 7})))

		req := uploadFixture()
		req.Anonymous = true
		post, err := env.svc.CreatePost(ctx, req)
		require.NoError(t, err)
		assert.Nil(t, post.UserID)
	})

	t.Run("from remote URL", func(t *testing.T) {
		env := setupTestService(t)
		env.fetcher.serve("http://img.youtube.com/vi/abc123/mqdefault.jpg", []byte("thumb"))

		req := uploadFixture()
		req.Content = nil
		req.URL = "https://youtube.com/watch?v=abc123"
		post, err := env.svc.CreatePost(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, postengine.MediaKindRemoteEmbed, post.Kind)
		assert.Equal(t, "abc123", post.Checksum)
		assert.Equal(t, req.URL, post.OriginalFileName)
		assert.Nil(t, post.OriginalFileSize)
		assert.Equal(t, []byte("thumb"), post.ThumbnailSource)
	})

	t.Run("no content specified", func(t *testing.T) {
		env := setupTestService(t)

		req := uploadFixture()
		req.Content = nil
		req.URL = ""
		_, err := env.svc.CreatePost(ctx, req)
		assert.ErrorIs(t, err, postengine.ErrNoContentSpecified)

		count, err := env.repo.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("validation failure rolls back", func(t *testing.T) {
		env := setupTestService(t)

		req := uploadFixture()
		req.Safety = "radioactive"
		_, err := env.svc.CreatePost(ctx, req)

		var validation *postengine.ValidationError
		require.True(t, errors.As(err, &validation))
		assert.Contains(t, validation.Fields, "Safety")

		count, err := env.repo.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("duplicate content", func(t *testing.T) {
		env := setupTestService(t)

		first, err := env.svc.CreatePost(ctx, uploadFixture())
		require.NoError(t, err)

		_, err = env.svc.CreatePost(ctx, uploadFixture())
		var duplicate *postengine.DuplicateContentError
		require.True(t, errors.As(err, &duplicate))
		assert.Equal(t, first.ID, duplicate.PostID)

		count, err := env.repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

func TestUpdatePost(t *testing.T) {
	ctx := context.Background()

	t.Run("stale token is rejected before any write", func(t *testing.T) {
		env := setupTestService(t)
		post, err := env.svc.CreatePost(ctx, uploadFixture())
		require.NoError(t, err)

		source := "elsewhere"
		_, err = env.svc.UpdatePost(ctx, post, postengine.PostEdit{
			SeenEditTime: post.LastEditTime.Add(-time.Second),
			Source:       &source,
		})
		assert.ErrorIs(t, err, postengine.ErrConcurrentModification)

		// Zero store writes happened: the stored post is untouched and no
		// extra snapshot was recorded.
		stored, err := env.repo.FindByID(ctx, post.ID)
		require.NoError(t, err)
		assert.Equal(t, post.Source, stored.Source)
		assert.True(t, stored.LastEditTime.Equal(post.LastEditTime))

		history, err := env.svc.GetHistory(ctx, post)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("sparse patch leaves absent fields untouched", func(t *testing.T) {
		env := setupTestService(t)
		post, err := env.svc.CreatePost(ctx, uploadFixture())
		require.NoError(t, err)

		env.clock.advance(time.Minute)
		source := "rehosted"
		updated, err := env.svc.UpdatePost(ctx, post, postengine.PostEdit{
			SeenEditTime: post.LastEditTime,
			Source:       &source,
		})
		require.NoError(t, err)

		assert.Equal(t, "rehosted", updated.Source)
		assert.Equal(t, post.Content, updated.Content)
		assert.Equal(t, post.Checksum, updated.Checksum)
		assert.Equal(t, post.Tags, updated.Tags)
		assert.Equal(t, post.RelatedPostIDs, updated.RelatedPostIDs)
		assert.Equal(t, post.Safety, updated.Safety)
		assert.True(t, updated.LastEditTime.After(post.LastEditTime))
	})

	t.Run("token advances on every commit", func(t *testing.T) {
		env := setupTestService(t)
		post, err := env.svc.CreatePost(ctx, uploadFixture())
		require.NoError(t, err)

		env.clock.advance(time.Minute)
		source := "first edit"
		updated, err := env.svc.UpdatePost(ctx, post, postengine.PostEdit{
			SeenEditTime: post.LastEditTime,
			Source:       &source,
		})
		require.NoError(t, err)

		// A second editor still holding the original token loses.
		other := "second edit"
		_, err = env.svc.UpdatePost(ctx, updated, postengine.PostEdit{
			SeenEditTime: post.LastEditTime,
			Source:       &other,
		})
		assert.ErrorIs(t, err, postengine.ErrConcurrentModification)
	})

	t.Run("re-saving own content is not a duplicate", func(t *testing.T) {
		env := setupTestService(t)
		post, err := env.svc.CreatePost(ctx, uploadFixture())
		require.NoError(t, err)

		env.clock.advance(time.Minute)
		updated, err := env.svc.UpdatePost(ctx, post, postengine.PostEdit{
			SeenEditTime: post.LastEditTime,
			Content:      jpegHeader,
		})
		require.NoError(t, err)
		assert.Equal(t, post.Checksum, updated.Checksum)
	})

	t.Run("content change re-ingests", func(t *testing.T) {
		env := setupTestService(t)
		post, err := env.svc.CreatePost(ctx, uploadFixture())
		require.NoError(t, err)

		env.clock.advance(time.Minute)
		updated, err := env.svc.UpdatePost(ctx, post, postengine.PostEdit{
			SeenEditTime: post.LastEditTime,
			Content:      mp4Header,
		})
		require.NoError(t, err)

		assert.Equal(t, postengine.MediaKindVideo, updated.Kind)
		assert.Equal(t, "video/mp4", updated.MimeType)
		sum := sha1.Sum(mp4Header)
		assert.Equal(t, hex.EncodeToString(sum[:]), updated.Checksum)

		// The old checksum no longer blocks other posts.
		req := uploadFixture()
		req.FileName = "other.jpg"
		_, err = env.svc.CreatePost(ctx, req)
		assert.NoError(t, err)
	})

	t.Run("tags replace as a set", func(t *testing.T) {
		env := setupTestService(t)
		post, err := env.svc.CreatePost(ctx, uploadFixture())
		require.NoError(t, err)

		env.clock.advance(time.Minute)
		updated, err := env.svc.UpdatePost(ctx, post, postengine.PostEdit{
			SeenEditTime: post.LastEditTime,
			Tags:         []string{"dog"},
		})
		require.NoError(t, err)

		require.Len(t, updated.Tags, 1)
		assert.Equal(t, "dog", updated.Tags[0].Name)
	})

	t.Run("dangling relation rejects the whole set", func(t *testing.T) {
		env := setupTestService(t)
		post, err := env.svc.CreatePost(ctx, uploadFixture())
		require.NoError(t, err)

		req := uploadFixture()
		req.Content = gifHeader
		req.FileName = "other.gif"
		other, err := env.svc.CreatePost(ctx, req)
		require.NoError(t, err)

		env.clock.advance(time.Minute)
		_, err = env.svc.UpdatePost(ctx, post, postengine.PostEdit{
			SeenEditTime: post.LastEditTime,
			Relations:    []int64{other.ID, 9999},
		})

		var missing *postengine.RelatedPostNotFoundError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, int64(9999), missing.PostID)

		stored, err := env.repo.FindByID(ctx, post.ID)
		require.NoError(t, err)
		assert.Empty(t, stored.RelatedPostIDs)
	})

	t.Run("valid relations attach", func(t *testing.T) {
		env := setupTestService(t)
		post, err := env.svc.CreatePost(ctx, uploadFixture())
		require.NoError(t, err)

		req := uploadFixture()
		req.Content = gifHeader
		req.FileName = "other.gif"
		other, err := env.svc.CreatePost(ctx, req)
		require.NoError(t, err)

		env.clock.advance(time.Minute)
		updated, err := env.svc.UpdatePost(ctx, post, postengine.PostEdit{
			SeenEditTime: post.LastEditTime,
			Relations:    []int64{other.ID},
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{other.ID}, updated.RelatedPostIDs)
	})

	t.Run("custom thumbnail override", func(t *testing.T) {
		env := setupTestService(t)
		post, err := env.svc.CreatePost(ctx, uploadFixture())
		require.NoError(t, err)

		env.clock.advance(time.Minute)
		thumbnail := []byte{9, 9, 9}
		updated, err := env.svc.UpdatePost(ctx, post, postengine.PostEdit{
			SeenEditTime: post.LastEditTime,
			Thumbnail:    thumbnail,
		})
		require.NoError(t, err)
		assert.Equal(t, thumbnail, updated.ThumbnailSource)
	})
}

func TestDeletePost(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	post, err := env.svc.CreatePost(ctx, uploadFixture())
	require.NoError(t, err)

	require.NoError(t, env.svc.DeletePost(ctx, post))

	// The row is gone but the audit trail retains the final state.
	_, err = env.repo.FindByID(ctx, post.ID)
	assert.ErrorIs(t, err, postengine.ErrPostNotFound)

	history, err := env.repo.ListBySubject(ctx, postengine.SnapshotSubjectPost, post.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	operations := []postengine.SnapshotOperation{history[0].Operation, history[1].Operation}
	assert.Contains(t, operations, postengine.SnapshotOperationCreate)
	assert.Contains(t, operations, postengine.SnapshotOperationDelete)
}

func TestFeaturePost(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	postA, err := env.svc.CreatePost(ctx, uploadFixture())
	require.NoError(t, err)

	req := uploadFixture()
	req.Content = gifHeader
	req.FileName = "b.gif"
	postB, err := env.svc.CreatePost(ctx, req)
	require.NoError(t, err)

	t.Run("first feature records one snapshot", func(t *testing.T) {
		require.NoError(t, env.svc.FeaturePost(ctx, postB))

		featured, err := env.svc.GetFeatured(ctx)
		require.NoError(t, err)
		require.NotNil(t, featured)
		assert.Equal(t, postB.ID, featured.ID)
		assert.Equal(t, 1, featured.FeatureCount)
		assert.NotNil(t, featured.LastFeatureTime)

		history, err := env.repo.ListBySubject(ctx, postengine.SnapshotSubjectPost, postB.ID)
		require.NoError(t, err)
		assert.Len(t, history, 2) // create + feature
	})

	t.Run("refeaturing touches the previous holder too", func(t *testing.T) {
		env.clock.advance(time.Hour)
		require.NoError(t, env.svc.FeaturePost(ctx, postA))

		featured, err := env.svc.GetFeatured(ctx)
		require.NoError(t, err)
		require.NotNil(t, featured)
		assert.Equal(t, postA.ID, featured.ID)

		// Post A gained a feature snapshot, post B a modify snapshot for
		// its implicit status change.
		historyA, err := env.repo.ListBySubject(ctx, postengine.SnapshotSubjectPost, postA.ID)
		require.NoError(t, err)
		assert.Len(t, historyA, 2)

		historyB, err := env.repo.ListBySubject(ctx, postengine.SnapshotSubjectPost, postB.ID)
		require.NoError(t, err)
		assert.Len(t, historyB, 3)
	})
}

func TestRecomputeGlobals(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	payloads := [][]byte{
		append(append([]byte(nil), jpegHeader...), make([]byte, 290)...),
		append(append([]byte(nil), gifHeader...), make([]byte, 287)...),
		append(append([]byte(nil), mp4Header...), make([]byte, 276)...),
	}
	for i, payload := range payloads {
		require.Len(t, payload, 300)
		req := uploadFixture()
		req.Content = payload
		req.FileName = string(rune('a'+i)) + ".bin"
		_, err := env.svc.CreatePost(ctx, req)
		require.NoError(t, err)
	}

	require.NoError(t, env.svc.RecomputeGlobals(ctx))

	count, ok, err := env.repo.Get(ctx, postengine.ParamPostCount)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", count)

	size, ok, err := env.repo.Get(ctx, postengine.ParamPostSize)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "900", size)
}

func TestReadOperations(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)

	post, err := env.svc.CreatePost(ctx, uploadFixture())
	require.NoError(t, err)

	t.Run("GetByName", func(t *testing.T) {
		found, err := env.svc.GetByName(ctx, post.Name)
		require.NoError(t, err)
		assert.Equal(t, post.ID, found.ID)
	})

	t.Run("GetByName_NotFound", func(t *testing.T) {
		_, err := env.svc.GetByName(ctx, "nope")
		assert.ErrorIs(t, err, postengine.ErrPostNotFound)
	})

	t.Run("GetByNameOrID", func(t *testing.T) {
		found, err := env.svc.GetByNameOrID(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, post.ID, found.ID)

		found, err = env.svc.GetByNameOrID(ctx, post.Name)
		require.NoError(t, err)
		assert.Equal(t, post.ID, found.ID)
	})

	t.Run("GetFeatured_NothingFeatured", func(t *testing.T) {
		featured, err := env.svc.GetFeatured(ctx)
		require.NoError(t, err)
		assert.Nil(t, featured)
	})
}
