package postengine

import "time"

// Request DTOs

// UploadRequest contains parameters for creating a new post. Exactly one of
// Content and URL must carry the submission's content.
type UploadRequest struct {
	Content   []byte
	URL       string
	FileName  string
	Safety    Safety   `validate:"required,oneof=safe sketchy unsafe"`
	Source    string   `validate:"max=200"`
	Tags      []string `validate:"required,min=1,dive,min=1,max=64"`
	Anonymous bool
}

// PostEdit contains a sparse patch for an existing post.
//
// Each optional field distinguishes "unset" from "set to a value": a nil
// pointer or nil slice leaves the corresponding post field untouched, while
// a non-nil value (including a pointer to an empty string or an empty
// non-nil slice) replaces it. This mirrors the partial-update semantics of
// the edit form, where an omitted field means "leave unchanged".
type PostEdit struct {
	// SeenEditTime is the post's LastEditTime as last observed by the
	// caller; the edit is rejected when it is stale.
	SeenEditTime time.Time `validate:"required"`

	Content   []byte
	Thumbnail []byte
	Safety    *Safety  `validate:"omitempty,oneof=safe sketchy unsafe"`
	Source    *string  `validate:"omitempty,max=200"`
	Tags      []string `validate:"omitempty,min=1,dive,min=1,max=64"`
	Relations []int64
}
