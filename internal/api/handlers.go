package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/albumshare/internal/album"
	"github.com/starford/albumshare/internal/tagindex"
	"github.com/starford/albumshare/internal/upload"
	"github.com/starford/albumshare/internal/view"
)

// Uploader sends one batch of files.
type Uploader interface {
	Upload(ctx context.Context, files []upload.File) (upload.Summary, error)
}

// Handler holds API route handlers.
type Handler struct {
	session  *album.Session
	custom   *tagindex.CustomTags
	uploader Uploader
}

// NewHandler creates a new Handler. custom and uploader may be nil, in which
// case their routes answer 404.
func NewHandler(session *album.Session, custom *tagindex.CustomTags, uploader Uploader) *Handler {
	return &Handler{session: session, custom: custom, uploader: uploader}
}

// photoKey extracts the photo key from the URL wildcard.
// Supports encoded slashes from clients (e.g. uploads%2Fa.jpg).
func photoKey(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListPhotos handles GET /api/photos.
//
//	@Summary		Visible photos under the saved filter
//	@Description	tag, year and month replace the saved filter for this call only.
//	@Tags			photos
//	@Produce		json
//	@Param			tag		query		string	false	"Tag"
//	@Param			year	query		string	false	"Year (repeatable)"
//	@Param			month	query		string	false	"Month name (repeatable)"
//	@Success		200		{object}	PhotoListResponse
//	@Security		BearerAuth
//	@Router			/photos [get]
func (h *Handler) ListPhotos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := h.session.Filter()
	if q.Has("tag") || q.Has("year") || q.Has("month") {
		f = view.Filter{Tag: q.Get("tag"), Years: q["year"], Months: q["month"]}
	}
	items := h.session.ViewWith(f)
	writeJSON(w, http.StatusOK, PhotoListResponse{
		Photos:     items,
		Total:      len(items),
		Filter:     f,
		Pagination: h.session.Pagination(),
	})
}

// Facets handles GET /api/facets.
func (h *Handler) Facets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Facets())
}

// Pagination handles GET /api/pagination.
func (h *Handler) Pagination(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Pagination())
}

// LoadInitial handles POST /api/photos/load.
//
//	@Summary		Fetch the first page (favorites first)
//	@Tags			photos
//	@Produce		json
//	@Success		200	{object}	album.PageResult
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/photos/load [post]
func (h *Handler) LoadInitial(w http.ResponseWriter, r *http.Request) {
	res, err := h.session.LoadInitial(r.Context())
	if err != nil {
		writeError(w, "load initial", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LoadMore handles POST /api/photos/more.
func (h *Handler) LoadMore(w http.ResponseWriter, r *http.Request) {
	res, err := h.session.LoadMore(r.Context())
	if err != nil {
		writeError(w, "load more", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reload handles POST /api/photos/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	res, err := h.session.Reload(r.Context())
	if err != nil {
		writeError(w, "reload", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetFilter handles GET /api/filter.
func (h *Handler) GetFilter(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Filter())
}

// PutFilter handles PUT /api/filter.
func (h *Handler) PutFilter(w http.ResponseWriter, r *http.Request) {
	var f view.Filter
	if !decodeJSON(w, r, &f) {
		return
	}
	saved, err := h.session.SetFilter(r.Context(), f)
	if err != nil {
		writeError(w, "set filter", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// ToggleFilter handles POST /api/filter/toggle.
//
//	@Summary		Flip one tag, year or month selection
//	@Tags			filter
//	@Accept			json
//	@Produce		json
//	@Param			body	body		FilterToggleRequest	true	"Selection"
//	@Success		200		{object}	view.Filter
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/filter/toggle [post]
func (h *Handler) ToggleFilter(w http.ResponseWriter, r *http.Request) {
	var req FilterToggleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	f, err := h.session.ToggleFilter(r.Context(), req.Kind, req.Value)
	if err != nil {
		writeError(w, "toggle filter", err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// ClearFilter handles DELETE /api/filter.
func (h *Handler) ClearFilter(w http.ResponseWriter, r *http.Request) {
	f, err := h.session.ClearFilter(r.Context())
	if err != nil {
		writeError(w, "clear filter", err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// AddFavorite handles PUT /api/favorites/*.
func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	h.setFavorite(w, r, func(ctx context.Context, key string) (bool, error) {
		return h.session.SetFavorite(ctx, key, true)
	})
}

// RemoveFavorite handles DELETE /api/favorites/*.
func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	h.setFavorite(w, r, func(ctx context.Context, key string) (bool, error) {
		return h.session.SetFavorite(ctx, key, false)
	})
}

// ToggleFavorite handles POST /api/favorites/toggle/*.
//
//	@Summary		Flip the favorite mark of one photo
//	@Tags			favorites
//	@Produce		json
//	@Param			key	path		string	true	"Photo key"
//	@Success		200	{object}	FavoriteResponse
//	@Failure		404	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/favorites/toggle/{key} [post]
func (h *Handler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	h.setFavorite(w, r, h.session.ToggleFavorite)
}

func (h *Handler) setFavorite(w http.ResponseWriter, r *http.Request, change func(context.Context, string) (bool, error)) {
	key := photoKey(r)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("photo key is required"))
		return
	}
	on, err := change(r.Context(), key)
	if err != nil {
		writeError(w, "favorite", err)
		return
	}
	resp := FavoriteResponse{Key: key, IsFavorite: on}
	if p, ok := h.session.Photo(key); ok {
		resp.FavoriteCount = p.Favorites()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTags handles GET /api/tags/*.
func (h *Handler) GetTags(w http.ResponseWriter, r *http.Request) {
	key := photoKey(r)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("photo key is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.tagsOf(key))
}

// AddTag handles POST /api/tags.
//
//	@Summary		Add a tag to a photo
//	@Tags			tags
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TagRequest	true	"Photo and tag"
//	@Success		200		{object}	TagsResponse
//	@Failure		400		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags [post]
func (h *Handler) AddTag(w http.ResponseWriter, r *http.Request) {
	h.setTag(w, r, true)
}

// RemoveTag handles DELETE /api/tags.
func (h *Handler) RemoveTag(w http.ResponseWriter, r *http.Request) {
	h.setTag(w, r, false)
}

func (h *Handler) setTag(w http.ResponseWriter, r *http.Request, on bool) {
	var req TagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PhotoKey == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("photoKey is required"))
		return
	}
	if err := h.session.SetTag(r.Context(), req.PhotoKey, req.Tag, on); err != nil {
		writeError(w, "set tag", err)
		return
	}
	writeJSON(w, http.StatusOK, h.tagsOf(req.PhotoKey))
}

// BulkTag handles POST /api/tags/bulk.
func (h *Handler) BulkTag(w http.ResponseWriter, r *http.Request) {
	var req BulkTagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.session.BulkTag(r.Context(), req.Tag, req.PhotoKeys)
	if err != nil {
		writeError(w, "bulk tag", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) tagsOf(key string) TagsResponse {
	tags := h.session.Tags().Tags(key)
	if tags == nil {
		tags = []string{}
	}
	return TagsResponse{Key: key, Tags: tags}
}

// ListCustomTags handles GET /api/custom-tags.
func (h *Handler) ListCustomTags(w http.ResponseWriter, r *http.Request) {
	if h.custom == nil {
		http.NotFound(w, r)
		return
	}
	tags, err := h.custom.List(r.Context())
	if err != nil {
		writeError(w, "list custom tags", err)
		return
	}
	writeJSON(w, http.StatusOK, CustomTagsResponse{Tags: nonNil(tags)})
}

// AddCustomTag handles POST /api/custom-tags.
func (h *Handler) AddCustomTag(w http.ResponseWriter, r *http.Request) {
	if h.custom == nil {
		http.NotFound(w, r)
		return
	}
	var req CustomTagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tags, err := h.custom.Add(r.Context(), req.Tag)
	if err != nil {
		writeError(w, "add custom tag", err)
		return
	}
	writeJSON(w, http.StatusCreated, CustomTagsResponse{Tags: nonNil(tags)})
}

// RemoveCustomTag handles DELETE /api/custom-tags/{tag}.
func (h *Handler) RemoveCustomTag(w http.ResponseWriter, r *http.Request) {
	if h.custom == nil {
		http.NotFound(w, r)
		return
	}
	tag, err := url.PathUnescape(chi.URLParam(r, "tag"))
	if err != nil || tag == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("tag is required"))
		return
	}
	tags, err := h.custom.Remove(r.Context(), tag)
	if err != nil {
		writeError(w, "remove custom tag", err)
		return
	}
	writeJSON(w, http.StatusOK, CustomTagsResponse{Tags: nonNil(tags)})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
