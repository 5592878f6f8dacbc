package postengine

import (
	"time"

	"github.com/google/uuid"
)

// MediaKind is the coarse classification of a post's content.
type MediaKind string

// Media kind constants (typed).
const (
	MediaKindImage       MediaKind = "image"
	MediaKindVideo       MediaKind = "video"
	MediaKindFlash       MediaKind = "flash"
	MediaKindRemoteEmbed MediaKind = "remote-embed"
)

// Safety is the user-facing safety rating of a post.
type Safety string

// Safety rating constants (typed).
const (
	SafetySafe    Safety = "safe"
	SafetySketchy Safety = "sketchy"
	SafetyUnsafe  Safety = "unsafe"
)

// SnapshotOperation is the kind of mutation a snapshot records.
type SnapshotOperation string

// Snapshot operation constants (typed).
const (
	SnapshotOperationCreate SnapshotOperation = "create"
	SnapshotOperationModify SnapshotOperation = "modify"
	SnapshotOperationDelete SnapshotOperation = "delete"
)

// SnapshotSubjectPost is the subject type tag for post snapshots.
const SnapshotSubjectPost = "post"

// Well-known global parameter keys.
const (
	ParamFeaturedPost = "featured-post"
	ParamPostCount    = "post-count"
	ParamPostSize     = "post-size"
)

// Post is the central entity: a validated, classified, deduplicated media
// submission together with its editable metadata and provenance.
//
// LastEditTime doubles as the optimistic-concurrency token: it advances on
// every committed mutation, and an edit whose SeenEditTime does not match it
// is rejected. No other locking exists.
type Post struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`

	// Content descriptor. Checksum is the SHA-1 of Content, except for
	// remote embeds where it is the remote video id.
	MimeType         string    `json:"mime_type,omitempty"`
	Kind             MediaKind `json:"kind"`
	Checksum         string    `json:"checksum"`
	Content          []byte    `json:"-"`
	ThumbnailSource  []byte    `json:"-"`
	OriginalFileName string    `json:"original_file_name,omitempty"`
	OriginalFileSize *int64    `json:"original_file_size,omitempty"`
	ImageWidth       *int      `json:"image_width,omitempty"`
	ImageHeight      *int      `json:"image_height,omitempty"`

	// Editable metadata.
	Safety         Safety  `json:"safety"`
	Source         string  `json:"source,omitempty"`
	Tags           []Tag   `json:"tags"`
	RelatedPostIDs []int64 `json:"related_post_ids,omitempty"`

	// Provenance. UserID is nil for anonymous uploads.
	UserID          *int64     `json:"user_id,omitempty"`
	UploadTime      time.Time  `json:"upload_time"`
	LastEditTime    time.Time  `json:"last_edit_time"`
	FeatureCount    int        `json:"feature_count"`
	LastFeatureTime *time.Time `json:"last_feature_time,omitempty"`
}

// Clone returns a deep copy of the post. Slices and pointer fields are
// duplicated so mutations of the copy never leak into the original.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	c.Content = append([]byte(nil), p.Content...)
	c.ThumbnailSource = append([]byte(nil), p.ThumbnailSource...)
	c.Tags = append([]Tag(nil), p.Tags...)
	c.RelatedPostIDs = append([]int64(nil), p.RelatedPostIDs...)
	c.OriginalFileSize = cloneValue(p.OriginalFileSize)
	c.ImageWidth = cloneValue(p.ImageWidth)
	c.ImageHeight = cloneValue(p.ImageHeight)
	c.UserID = cloneValue(p.UserID)
	c.LastFeatureTime = cloneValue(p.LastFeatureTime)
	return &c
}

func cloneValue[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Tag is a resolved tag entity attached to a post.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// User identifies the uploader resolved from the ambient session.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ContentDescriptor is the derived metadata produced from raw post content
// (or from a remote reference). For remote embeds Data and FileSize are
// absent and Checksum holds the remote video id rather than a content hash.
type ContentDescriptor struct {
	MimeType        string
	Kind            MediaKind
	Checksum        string
	Data            []byte
	FileName        string
	FileSize        *int64
	ImageWidth      *int
	ImageHeight     *int
	ThumbnailSource []byte
}

// Snapshot is an immutable audit record of an entity's state at the time of
// a committed mutation. Snapshots are append-only: they are never mutated or
// deleted by the engine.
type Snapshot struct {
	ID          uuid.UUID              `json:"id"`
	SubjectID   int64                  `json:"subject_id"`
	SubjectType string                 `json:"subject_type"`
	Operation   SnapshotOperation      `json:"operation"`
	State       map[string]interface{} `json:"state"`
	CreatedAt   time.Time              `json:"created_at"`
}
