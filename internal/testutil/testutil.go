// Package testutil provides shared test helpers: a fake album collaborator
// server, temporary stores and drop folders.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/albumshare/internal/backend"
	"github.com/starford/albumshare/internal/models"
	"github.com/starford/albumshare/internal/photokey"
	"github.com/starford/albumshare/internal/storage"
	"github.com/starford/albumshare/internal/store"
)

// TestStore creates a temporary SQLite KV store that is closed on cleanup.
func TestStore(t *testing.T) *store.SQLite {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "albumshare-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestInbox creates a temporary drop folder with a storage provider.
func TestInbox(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// Object is one file received by the fake object storage.
type Object struct {
	ContentType string
	Data        []byte
}

// Backend is an in-memory implementation of the collaborator HTTP contracts.
// Zero-value knobs mean "behave normally".
type Backend struct {
	URL   string
	Token string // when set, every JSON endpoint requires "Bearer <Token>"

	mu          sync.Mutex
	photos      []models.Photo
	pages       [][]models.Photo
	legacy      bool
	favorites   map[string]bool
	tags        map[string][]string
	failTags    map[string]bool
	failPhotos  int
	failWrites  bool
	failUploads map[string]bool
	objects     map[string]Object
	calls       map[string]int
}

// NewBackend starts the fake server; it is closed on cleanup.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{
		favorites:   make(map[string]bool),
		tags:        make(map[string][]string),
		failTags:    make(map[string]bool),
		failUploads: make(map[string]bool),
		objects:     make(map[string]Object),
		calls:       make(map[string]int),
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(b.requireToken)
		r.Get("/photos", b.listPhotos)
		r.Get("/favorites", b.listFavorites)
		r.Post("/favorites", b.setFavorite(true))
		r.Delete("/favorites", b.setFavorite(false))
		r.Get("/tags", b.listTags)
		r.Post("/tags", b.setTag(true))
		r.Delete("/tags", b.setTag(false))
		r.Post("/upload-url", b.uploadURL)
	})
	r.Put("/objects/*", b.putObject)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	b.URL = srv.URL
	return b
}

// Endpoints returns the endpoint set pointing at the fake server.
func (b *Backend) Endpoints() backend.Endpoints {
	return backend.Endpoints{
		BaseURL:   b.URL,
		Photos:    "/photos",
		Favorites: "/favorites",
		Tags:      "/tags",
		UploadURL: "/upload-url",
	}
}

// Client returns a backend.Client bound to the fake server.
func (b *Backend) Client(opts ...backend.Option) *backend.Client {
	if b.Token != "" {
		opts = append([]backend.Option{backend.WithAuthorizer(backend.BearerAuthorizer{Source: backend.StaticToken(b.Token)})}, opts...)
	}
	return backend.New(b.Endpoints(), opts...)
}

// SetToken changes the required bearer token while the server runs.
func (b *Backend) SetToken(token string) {
	b.mu.Lock()
	b.Token = token
	b.mu.Unlock()
}

// SetPhotos replaces the listing, paginated by the requested limit.
func (b *Backend) SetPhotos(photos ...models.Photo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.photos = photos
	b.pages = nil
}

// SetPages scripts the listing page by page, ignoring the requested limit.
func (b *Backend) SetPages(pages ...[]models.Photo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages = pages
	b.photos = nil
}

// SetLegacy makes the listing answer with a bare array of every photo.
func (b *Backend) SetLegacy(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.legacy = on
}

// SetFavorite marks key as favorited by the viewer.
func (b *Backend) SetFavorite(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.favorites[key] = true
}

// IsFavorite reports the stored favorite state of key.
func (b *Backend) IsFavorite(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.favorites[key]
}

// SetTags replaces the stored tags of key.
func (b *Backend) SetTags(key string, tags ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tags[key] = tags
}

// Tags returns the stored tags of key.
func (b *Backend) Tags(key string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.tags[key]...)
}

// FailTags makes tag reads for key answer 500.
func (b *Backend) FailTags(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failTags[key] = true
}

// FailPhotos makes the next n listing calls answer 500.
func (b *Backend) FailPhotos(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPhotos = n
}

// FailWrites makes favorite and tag writes answer 500.
func (b *Backend) FailWrites(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWrites = on
}

// FailUpload makes the object PUT for fileName answer 500.
func (b *Backend) FailUpload(fileName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failUploads[fileName] = true
}

// Objects returns a copy of the uploaded objects by key.
func (b *Backend) Objects() map[string]Object {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Object, len(b.objects))
	for k, v := range b.objects {
		out[k] = v
	}
	return out
}

// Calls returns how often an endpoint ("GET /photos", ...) was hit.
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

func (b *Backend) count(r *http.Request) {
	b.mu.Lock()
	b.calls[r.Method+" "+r.URL.Path]++
	b.mu.Unlock()
}

func (b *Backend) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.count(r)
		b.mu.Lock()
		token := b.Token
		b.mu.Unlock()
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) listPhotos(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failPhotos > 0 {
		b.failPhotos--
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
		return
	}
	if b.legacy {
		writeJSON(w, http.StatusOK, b.photos)
		return
	}

	token := r.URL.Query().Get("nextToken")
	start := 0
	if token != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(token, "t"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad token"})
			return
		}
		start = n
	}

	var page []models.Photo
	next := 0
	more := false
	if b.pages != nil {
		if start < len(b.pages) {
			page = b.pages[start]
		}
		next = start + 1
		more = next < len(b.pages)
	} else {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = len(b.photos)
		}
		end := min(start+limit, len(b.photos))
		if start < end {
			page = b.photos[start:end]
		}
		next = end
		more = end < len(b.photos)
	}

	pagination := map[string]any{"hasMore": more}
	if more {
		pagination["nextToken"] = "t" + strconv.Itoa(next)
	}
	if page == nil {
		page = []models.Photo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"photos": page, "pagination": pagination})
}

func (b *Backend) listFavorites(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []models.Photo{}
	seen := make(map[string]bool)
	for _, pages := range append([][]models.Photo{b.photos}, b.pages...) {
		for _, p := range pages {
			if b.favorites[p.Key] && !seen[p.Key] {
				seen[p.Key] = true
				out = append(out, p)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"favorites": out})
}

func (b *Backend) setFavorite(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PhotoKey string `json:"photoKey"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PhotoKey == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "photoKey required"})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failWrites {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
			return
		}
		if on {
			b.favorites[req.PhotoKey] = true
		} else {
			delete(b.favorites, req.PhotoKey)
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (b *Backend) listTags(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("photoKey")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failTags[key] {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
		return
	}
	type tag struct {
		Tag string `json:"tag"`
	}
	out := []tag{}
	for _, t := range b.tags[key] {
		out = append(out, tag{Tag: t})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": out})
}

func (b *Backend) setTag(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PhotoKey string `json:"photoKey"`
			Tag      string `json:"tag"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PhotoKey == "" || req.Tag == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "photoKey and tag required"})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failWrites {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
			return
		}
		cur := b.tags[req.PhotoKey]
		kept := cur[:0:0]
		for _, t := range cur {
			if t != req.Tag {
				kept = append(kept, t)
			}
		}
		if on {
			kept = append(kept, req.Tag)
		}
		b.tags[req.PhotoKey] = kept
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (b *Backend) uploadURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName string `json:"fileName"`
		FileType string `json:"fileType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "fileName required"})
		return
	}
	key := "uploads/1700000000000_abcd1234_" + req.FileName
	writeJSON(w, http.StatusOK, models.UploadSlot{
		UploadURL: b.URL + "/objects/" + key,
		Key:       key,
	})
}

func (b *Backend) putObject(w http.ResponseWriter, r *http.Request) {
	b.count(r)
	key := chi.URLParam(r, "*")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	name := photokey.StripUploadPrefix(key)
	if b.failUploads[name] {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	b.objects[key] = Object{ContentType: r.Header.Get("Content-Type"), Data: data}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
