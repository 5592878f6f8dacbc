package postengine

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Classify sniffs the buffer's magic bytes (never a filename) and maps the
// detected mime type to a coarse media kind. It fails with
// *UnsupportedContentKindError when the mime type matches no recognized
// family.
func Classify(data []byte) (string, MediaKind, error) {
	mime := mimetype.Detect(data).String()
	// mimetype appends parameters to text types; the media families we
	// accept never carry any, so strip them for a clean comparison.
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	switch {
	case isFlash(mime):
		return mime, MediaKindFlash, nil
	case isImage(mime):
		return mime, MediaKindImage, nil
	case isVideo(mime):
		return mime, MediaKindVideo, nil
	}
	return mime, "", &UnsupportedContentKindError{MimeType: mime}
}

func isImage(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}

func isVideo(mime string) bool {
	// Ogg containers sniff as application/ogg even when they hold video.
	return strings.HasPrefix(mime, "video/") || mime == "application/ogg"
}

func isFlash(mime string) bool {
	return mime == "application/x-shockwave-flash"
}
