package postengine

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"regexp"

	// Registered for best-effort dimension extraction via image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Config carries the content policy limits enforced during ingestion.
type Config struct {
	// MaxPostSize is the maximum accepted content size in bytes.
	MaxPostSize int64

	// MaxThumbnailSize is the maximum accepted custom thumbnail size in bytes.
	MaxThumbnailSize int64
}

// DefaultConfig returns the default content policy limits.
func DefaultConfig() Config {
	return Config{
		MaxPostSize:      25 * 1024 * 1024,
		MaxThumbnailSize: 1024 * 1024,
	}
}

var (
	urlSchemePattern    = regexp.MustCompile(`^https?://`)
	youtubeWatchPattern = regexp.MustCompile(`youtube\.com/watch.*?=([a-zA-Z0-9_-]+)`)
)

func youtubeThumbnailURL(videoID string) string {
	return "http://img.youtube.com/vi/" + videoID + "/mqdefault.jpg"
}

// Ingestor turns raw uploaded bytes or a remote URL into a fully populated
// content descriptor: mime type, media kind, checksum, dimensions and size,
// with size limits and duplicate rejection enforced.
type Ingestor struct {
	cfg     Config
	posts   PostStore
	fetcher Fetcher
}

// NewIngestor creates an ingestor over the given post store (for dedup
// lookups) and fetcher (for URL-based ingestion).
func NewIngestor(cfg Config, posts PostStore, fetcher Fetcher) *Ingestor {
	return &Ingestor{cfg: cfg, posts: posts, fetcher: fetcher}
}

// IngestBytes produces a content descriptor for raw uploaded bytes.
//
// selfID is the id of the post being re-ingested on update, so that a post
// re-saving its own unchanged content does not collide with itself; pass 0
// on create, where no id has been assigned yet.
func (ing *Ingestor) IngestBytes(ctx context.Context, selfID int64, data []byte) (*ContentDescriptor, error) {
	if len(data) == 0 {
		return nil, ErrEmptyContent
	}
	if int64(len(data)) > ing.cfg.MaxPostSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrContentTooLarge, len(data), ing.cfg.MaxPostSize)
	}

	mime, kind, err := Classify(data)
	if err != nil {
		return nil, err
	}

	sum := sha1.Sum(data)
	checksum := hex.EncodeToString(sum[:])
	if err := ing.assertNoOtherPostWithChecksum(ctx, selfID, checksum); err != nil {
		return nil, err
	}

	size := int64(len(data))
	desc := &ContentDescriptor{
		MimeType: mime,
		Kind:     kind,
		Checksum: checksum,
		Data:     data,
		FileSize: &size,
	}

	// Dimension extraction is best effort: video and flash buffers usually
	// fail to decode as images, which is not an ingestion failure.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		w, h := cfg.Width, cfg.Height
		desc.ImageWidth = &w
		desc.ImageHeight = &h
	}

	return desc, nil
}

// IngestURL produces a content descriptor from a remote URL.
//
// URLs matching the known video-sharing watch pattern become remote embeds:
// the extracted video id serves as the checksum, no primary bytes are ever
// downloaded or hashed, and a thumbnail is fetched from the derived
// well-known thumbnail URL. Any other URL is downloaded and ingested as
// bytes.
func (ing *Ingestor) IngestURL(ctx context.Context, selfID int64, url string) (*ContentDescriptor, error) {
	if !urlSchemePattern.MatchString(url) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}

	if m := youtubeWatchPattern.FindStringSubmatch(url); m != nil {
		videoID := m[1]
		if err := ing.assertNoOtherPostWithChecksum(ctx, selfID, videoID); err != nil {
			return nil, err
		}
		thumbnail, err := ing.fetcher.Download(ctx, youtubeThumbnailURL(videoID))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch remote thumbnail: %w", err)
		}
		return &ContentDescriptor{
			Kind:            MediaKindRemoteEmbed,
			Checksum:        videoID,
			FileName:        url,
			ThumbnailSource: thumbnail,
		}, nil
	}

	data, err := ing.fetcher.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	return ing.IngestBytes(ctx, selfID, data)
}

// IngestThumbnail validates a custom thumbnail against the configured size
// limit and passes it through unchanged.
func (ing *Ingestor) IngestThumbnail(data []byte) ([]byte, error) {
	if int64(len(data)) > ing.cfg.MaxThumbnailSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrThumbnailTooLarge, len(data), ing.cfg.MaxThumbnailSize)
	}
	return data, nil
}

func (ing *Ingestor) assertNoOtherPostWithChecksum(ctx context.Context, selfID int64, checksum string) error {
	existing, err := ing.posts.FindByChecksum(ctx, checksum)
	if errors.Is(err, ErrPostNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != selfID {
		return &DuplicateContentError{PostID: existing.ID, Checksum: checksum}
	}
	return nil
}
