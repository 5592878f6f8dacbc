package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/tendant/post-engine/pkg/postengine"
)

// Repository implements the engine's store contracts (postengine.PostStore,
// SnapshotStore, GlobalParamStore and TagResolver) using in-memory maps.
type Repository struct {
	mu              sync.RWMutex
	nextPostID      int64
	nextTagID       int64
	posts           map[int64]*postengine.Post
	postsByName     map[string]int64
	postsByChecksum map[string]int64
	snapshots       []*postengine.Snapshot
	params          map[string]string
	tags            map[string]postengine.Tag
	tagExport       []byte
}

var (
	_ postengine.PostStore        = (*Repository)(nil)
	_ postengine.SnapshotStore    = (*Repository)(nil)
	_ postengine.GlobalParamStore = (*Repository)(nil)
	_ postengine.TagResolver      = (*Repository)(nil)
)

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		posts:           make(map[int64]*postengine.Post),
		postsByName:     make(map[string]int64),
		postsByChecksum: make(map[string]int64),
		params:          make(map[string]string),
		tags:            make(map[string]postengine.Tag),
	}
}

// Post operations

func (r *Repository) FindByName(ctx context.Context, name string) (*postengine.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.postsByName[name]
	if !exists {
		return nil, postengine.ErrPostNotFound
	}
	return r.posts[id].Clone(), nil
}

func (r *Repository) FindByID(ctx context.Context, id int64) (*postengine.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	post, exists := r.posts[id]
	if !exists {
		return nil, postengine.ErrPostNotFound
	}
	return post.Clone(), nil
}

func (r *Repository) FindByIDs(ctx context.Context, ids []int64) (map[int64]*postengine.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[int64]*postengine.Post, len(ids))
	for _, id := range ids {
		if post, exists := r.posts[id]; exists {
			result[id] = post.Clone()
		}
	}
	return result, nil
}

func (r *Repository) FindByChecksum(ctx context.Context, checksum string) (*postengine.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.postsByChecksum[checksum]
	if !exists {
		return nil, postengine.ErrPostNotFound
	}
	return r.posts[id].Clone(), nil
}

func (r *Repository) Save(ctx context.Context, post *postengine.Post) (*postengine.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Store a copy to avoid external modifications
	saved := post.Clone()
	if saved.ID == 0 {
		r.nextPostID++
		saved.ID = r.nextPostID
	} else if previous, exists := r.posts[saved.ID]; exists {
		if previous.Checksum != saved.Checksum {
			delete(r.postsByChecksum, previous.Checksum)
		}
		if previous.Name != saved.Name {
			delete(r.postsByName, previous.Name)
		}
	}

	r.posts[saved.ID] = saved
	r.postsByName[saved.Name] = saved.ID
	if saved.Checksum != "" {
		r.postsByChecksum[saved.Checksum] = saved.ID
	}
	return saved.Clone(), nil
}

func (r *Repository) DeleteByID(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	post, exists := r.posts[id]
	if !exists {
		return postengine.ErrPostNotFound
	}

	delete(r.postsByName, post.Name)
	delete(r.postsByChecksum, post.Checksum)
	delete(r.posts, id)
	return nil
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return int64(len(r.posts)), nil
}

func (r *Repository) TotalContentSize(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	for _, post := range r.posts {
		if post.OriginalFileSize != nil {
			total += *post.OriginalFileSize
		}
	}
	return total, nil
}

// Snapshot operations

func (r *Repository) Record(ctx context.Context, snapshot *postengine.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Store a copy; snapshots are append-only and never handed back by
	// reference.
	copied := *snapshot
	r.snapshots = append(r.snapshots, &copied)
	return nil
}

func (r *Repository) ListBySubject(ctx context.Context, subjectType string, subjectID int64) ([]*postengine.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*postengine.Snapshot
	for _, snapshot := range r.snapshots {
		if snapshot.SubjectType == subjectType && snapshot.SubjectID == subjectID {
			copied := *snapshot
			result = append(result, &copied)
		}
	}

	// Newest first
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Global parameter operations

func (r *Repository) Get(ctx context.Context, key string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	value, exists := r.params[key]
	return value, exists, nil
}

func (r *Repository) Set(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.params[key] = value
	return nil
}

// Tag operations

func (r *Repository) ResolveOrCreate(ctx context.Context, names []string) ([]postengine.Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tags := make([]postengine.Tag, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		tag, exists := r.tags[name]
		if !exists {
			r.nextTagID++
			tag = postengine.Tag{ID: r.nextTagID, Name: name}
			r.tags[name] = tag
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func (r *Repository) PruneUnused(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	used := make(map[int64]bool)
	for _, post := range r.posts {
		for _, tag := range post.Tags {
			used[tag.ID] = true
		}
	}
	for name, tag := range r.tags {
		if !used[tag.ID] {
			delete(r.tags, name)
		}
	}
	return nil
}

func (r *Repository) RefreshExport(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.tags))
	for name := range r.tags {
		names = append(names, name)
	}
	sort.Strings(names)

	export, err := json.Marshal(names)
	if err != nil {
		return err
	}
	r.tagExport = export
	return nil
}

// TagExport returns the cached tag export built by RefreshExport.
func (r *Repository) TagExport() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]byte(nil), r.tagExport...)
}

// state is a deep copy of everything the repository holds, used by the
// transaction boundary to restore the pre-transaction view on rollback.
type state struct {
	nextPostID      int64
	nextTagID       int64
	posts           map[int64]*postengine.Post
	postsByName     map[string]int64
	postsByChecksum map[string]int64
	snapshots       []*postengine.Snapshot
	params          map[string]string
	tags            map[string]postengine.Tag
	tagExport       []byte
}

func (r *Repository) snapshotState() *state {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &state{
		nextPostID:      r.nextPostID,
		nextTagID:       r.nextTagID,
		posts:           make(map[int64]*postengine.Post, len(r.posts)),
		postsByName:     make(map[string]int64, len(r.postsByName)),
		postsByChecksum: make(map[string]int64, len(r.postsByChecksum)),
		snapshots:       append([]*postengine.Snapshot(nil), r.snapshots...),
		params:          make(map[string]string, len(r.params)),
		tags:            make(map[string]postengine.Tag, len(r.tags)),
		tagExport:       append([]byte(nil), r.tagExport...),
	}
	for id, post := range r.posts {
		s.posts[id] = post.Clone()
	}
	for name, id := range r.postsByName {
		s.postsByName[name] = id
	}
	for checksum, id := range r.postsByChecksum {
		s.postsByChecksum[checksum] = id
	}
	for key, value := range r.params {
		s.params[key] = value
	}
	for name, tag := range r.tags {
		s.tags[name] = tag
	}
	return s
}

func (r *Repository) restoreState(s *state) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextPostID = s.nextPostID
	r.nextTagID = s.nextTagID
	r.posts = s.posts
	r.postsByName = s.postsByName
	r.postsByChecksum = s.postsByChecksum
	r.snapshots = s.snapshots
	r.params = s.params
	r.tags = s.tags
	r.tagExport = s.tagExport
}
