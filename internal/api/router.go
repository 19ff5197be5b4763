package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Collection and pagination.
	r.Get("/photos", h.ListPhotos)
	r.Post("/photos/load", h.LoadInitial)
	r.Post("/photos/more", h.LoadMore)
	r.Post("/photos/reload", h.Reload)
	r.Get("/pagination", h.Pagination)
	r.Get("/facets", h.Facets)

	// Filter selection.
	r.Get("/filter", h.GetFilter)
	r.Put("/filter", h.PutFilter)
	r.Delete("/filter", h.ClearFilter)
	r.Post("/filter/toggle", h.ToggleFilter)

	// Favorites.
	r.Post("/favorites/toggle/*", h.ToggleFavorite)
	r.Put("/favorites/*", h.AddFavorite)
	r.Delete("/favorites/*", h.RemoveFavorite)

	// Tags.
	r.Post("/tags", h.AddTag)
	r.Delete("/tags", h.RemoveTag)
	r.Post("/tags/bulk", h.BulkTag)
	r.Get("/tags/*", h.GetTags)

	r.Get("/custom-tags", h.ListCustomTags)
	r.Post("/custom-tags", h.AddCustomTag)
	r.Delete("/custom-tags/{tag}", h.RemoveCustomTag)

	r.Post("/uploads", h.Upload)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
