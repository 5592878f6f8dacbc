package postengine

import (
	"errors"
	"fmt"
	"strings"
)

// Error types
var (
	// ErrPostNotFound indicates a post lookup missed
	ErrPostNotFound = errors.New("post not found")

	// ErrEmptyContent indicates a zero-length content buffer was submitted
	ErrEmptyContent = errors.New("file cannot be empty")

	// ErrContentTooLarge indicates the content exceeds the configured maximum post size
	ErrContentTooLarge = errors.New("upload is too big")

	// ErrThumbnailTooLarge indicates a custom thumbnail exceeds the configured size limit
	ErrThumbnailTooLarge = errors.New("thumbnail is too big")

	// ErrInvalidURL indicates a malformed URL or a disallowed scheme
	ErrInvalidURL = errors.New("invalid url")

	// ErrNoContentSpecified indicates a submission carried neither bytes nor a URL
	ErrNoContentSpecified = errors.New("no content specified")

	// ErrConcurrentModification indicates a stale edit token: someone else
	// committed an edit after the caller last saw the post
	ErrConcurrentModification = errors.New("someone has already edited this post in the meantime")

	// ErrNameGenerationExhausted indicates the unique-name retry limit was hit
	ErrNameGenerationExhausted = errors.New("could not generate a unique post name")
)

// UnsupportedContentKindError indicates the sniffed mime type matches no
// recognized media family.
type UnsupportedContentKindError struct {
	MimeType string
}

func (e *UnsupportedContentKindError) Error() string {
	return fmt.Sprintf("unhandled file type: %q", e.MimeType)
}

// DuplicateContentError indicates the content checksum collides with a
// different post.
type DuplicateContentError struct {
	PostID   int64
	Checksum string
}

func (e *DuplicateContentError) Error() string {
	return fmt.Sprintf("duplicate of post %d (checksum %s)", e.PostID, e.Checksum)
}

// RelatedPostNotFoundError indicates a related-post id could not be resolved.
type RelatedPostNotFoundError struct {
	PostID int64
}

func (e *RelatedPostNotFoundError) Error() string {
	return fmt.Sprintf("post with id %d was not found", e.PostID)
}

// ValidationError indicates a submission or edit violated field constraints.
type ValidationError struct {
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation failed: %v", e.Err)
	}
	return fmt.Sprintf("validation failed for %s", strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
