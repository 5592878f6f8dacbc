package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/post-engine/pkg/postengine"
)

// PostHandler handles HTTP requests for posts using pkg/postengine
type PostHandler struct {
	service postengine.Service
}

// NewPostHandler creates a new post handler
func NewPostHandler(service postengine.Service) *PostHandler {
	return &PostHandler{service: service}
}

// Routes returns the routes for posts
func (h *PostHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreatePost)
	r.Get("/featured", h.GetFeatured)
	r.Get("/{ref}", h.GetPost)
	r.Put("/{ref}", h.UpdatePost)
	r.Delete("/{ref}", h.DeletePost)
	r.Post("/{ref}/feature", h.FeaturePost)
	r.Get("/{ref}/history", h.GetHistory)

	return r
}

// GlobalRoutes returns the routes for derived global counters
func (h *PostHandler) GlobalRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/recompute", h.RecomputeGlobals)

	return r
}

// CreatePostRequest is the request body for creating a post. Content and
// Thumbnail bytes travel base64-encoded.
type CreatePostRequest struct {
	Content   []byte   `json:"content,omitempty"`
	URL       string   `json:"url,omitempty"`
	FileName  string   `json:"file_name,omitempty"`
	Safety    string   `json:"safety"`
	Source    string   `json:"source,omitempty"`
	Tags      []string `json:"tags"`
	Anonymous bool     `json:"anonymous,omitempty"`
}

// UpdatePostRequest is the request body for editing a post. Omitted fields
// leave the corresponding post field untouched.
type UpdatePostRequest struct {
	SeenEditTime time.Time `json:"seen_edit_time"`
	Content      []byte    `json:"content,omitempty"`
	Thumbnail    []byte    `json:"thumbnail,omitempty"`
	Safety       *string   `json:"safety,omitempty"`
	Source       *string   `json:"source,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Relations    []int64   `json:"relations,omitempty"`
}

// PostResponse is the response body for a post
type PostResponse struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	MimeType         string     `json:"mime_type,omitempty"`
	Kind             string     `json:"kind"`
	Checksum         string     `json:"checksum"`
	OriginalFileName string     `json:"original_file_name,omitempty"`
	OriginalFileSize *int64     `json:"original_file_size,omitempty"`
	ImageWidth       *int       `json:"image_width,omitempty"`
	ImageHeight      *int       `json:"image_height,omitempty"`
	Safety           string     `json:"safety"`
	Source           string     `json:"source,omitempty"`
	Tags             []string   `json:"tags"`
	Relations        []int64    `json:"relations,omitempty"`
	UserID           *int64     `json:"user_id,omitempty"`
	UploadTime       time.Time  `json:"upload_time"`
	LastEditTime     time.Time  `json:"last_edit_time"`
	FeatureCount     int        `json:"feature_count"`
	LastFeatureTime  *time.Time `json:"last_feature_time,omitempty"`
}

func toPostResponse(post *postengine.Post) PostResponse {
	tags := make([]string, len(post.Tags))
	for i, tag := range post.Tags {
		tags[i] = tag.Name
	}
	return PostResponse{
		ID:               post.ID,
		Name:             post.Name,
		MimeType:         post.MimeType,
		Kind:             string(post.Kind),
		Checksum:         post.Checksum,
		OriginalFileName: post.OriginalFileName,
		OriginalFileSize: post.OriginalFileSize,
		ImageWidth:       post.ImageWidth,
		ImageHeight:      post.ImageHeight,
		Safety:           string(post.Safety),
		Source:           post.Source,
		Tags:             tags,
		Relations:        post.RelatedPostIDs,
		UserID:           post.UserID,
		UploadTime:       post.UploadTime,
		LastEditTime:     post.LastEditTime,
		FeatureCount:     post.FeatureCount,
		LastFeatureTime:  post.LastFeatureTime,
	}
}

// CreatePost creates a new post
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	post, err := h.service.CreatePost(r.Context(), postengine.UploadRequest{
		Content:   req.Content,
		URL:       req.URL,
		FileName:  req.FileName,
		Safety:    postengine.Safety(req.Safety),
		Source:    req.Source,
		Tags:      req.Tags,
		Anonymous: req.Anonymous,
	})
	if err != nil {
		slog.Error("Failed to create post", "error", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toPostResponse(post))
}

// GetPost returns a post by name or id
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, ok := h.lookupPost(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, toPostResponse(post))
}

// UpdatePost applies a sparse patch to an existing post
func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	post, ok := h.lookupPost(w, r)
	if !ok {
		return
	}

	var req UpdatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	edit := postengine.PostEdit{
		SeenEditTime: req.SeenEditTime,
		Content:      req.Content,
		Thumbnail:    req.Thumbnail,
		Source:       req.Source,
		Tags:         req.Tags,
		Relations:    req.Relations,
	}
	if req.Safety != nil {
		safety := postengine.Safety(*req.Safety)
		edit.Safety = &safety
	}

	updated, err := h.service.UpdatePost(r.Context(), post, edit)
	if err != nil {
		slog.Error("Failed to update post", "post_id", post.ID, "error", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	render.JSON(w, r, toPostResponse(updated))
}

// DeletePost removes a post after recording its terminal snapshot
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	post, ok := h.lookupPost(w, r)
	if !ok {
		return
	}

	if err := h.service.DeletePost(r.Context(), post); err != nil {
		slog.Error("Failed to delete post", "post_id", post.ID, "error", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// FeaturePost marks a post as the featured post
func (h *PostHandler) FeaturePost(w http.ResponseWriter, r *http.Request) {
	post, ok := h.lookupPost(w, r)
	if !ok {
		return
	}

	if err := h.service.FeaturePost(r.Context(), post); err != nil {
		slog.Error("Failed to feature post", "post_id", post.ID, "error", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetFeatured returns the currently featured post
func (h *PostHandler) GetFeatured(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.GetFeatured(r.Context())
	if err != nil {
		slog.Error("Failed to get featured post", "error", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	if post == nil {
		http.Error(w, "no featured post", http.StatusNotFound)
		return
	}
	render.JSON(w, r, toPostResponse(post))
}

// GetHistory returns a post's audit snapshots, newest first
func (h *PostHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	post, ok := h.lookupPost(w, r)
	if !ok {
		return
	}

	history, err := h.service.GetHistory(r.Context(), post)
	if err != nil {
		slog.Error("Failed to get post history", "post_id", post.ID, "error", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	render.JSON(w, r, history)
}

// RecomputeGlobals refreshes the derived global counters
func (h *PostHandler) RecomputeGlobals(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RecomputeGlobals(r.Context()); err != nil {
		slog.Error("Failed to recompute globals", "error", err)
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PostHandler) lookupPost(w http.ResponseWriter, r *http.Request) (*postengine.Post, bool) {
	ref := chi.URLParam(r, "ref")
	post, err := h.service.GetByNameOrID(r.Context(), ref)
	if err != nil {
		if !errors.Is(err, postengine.ErrPostNotFound) {
			slog.Error("Failed to look up post", "ref", ref, "error", err)
		}
		http.Error(w, err.Error(), statusForError(err))
		return nil, false
	}
	return post, true
}

func statusForError(err error) int {
	var (
		validation  *postengine.ValidationError
		unsupported *postengine.UnsupportedContentKindError
		duplicate   *postengine.DuplicateContentError
		related     *postengine.RelatedPostNotFoundError
	)
	switch {
	case errors.As(err, &validation),
		errors.As(err, &unsupported),
		errors.Is(err, postengine.ErrEmptyContent),
		errors.Is(err, postengine.ErrContentTooLarge),
		errors.Is(err, postengine.ErrThumbnailTooLarge),
		errors.Is(err, postengine.ErrInvalidURL),
		errors.Is(err, postengine.ErrNoContentSpecified):
		return http.StatusBadRequest
	case errors.As(err, &duplicate),
		errors.Is(err, postengine.ErrConcurrentModification):
		return http.StatusConflict
	case errors.As(err, &related),
		errors.Is(err, postengine.ErrPostNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
