// Package album owns the in-memory photo collection of one viewer: paginated
// fetching with the empty-page retry policy, favorites, tags and the filter
// selection. A Session is safe for concurrent use; network calls never run
// under its lock.
package album

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/albumshare/internal/models"
	"github.com/starford/albumshare/internal/store"
	"github.com/starford/albumshare/internal/tagindex"
	"github.com/starford/albumshare/internal/view"
)

// Event kinds passed to the notifier.
const (
	EventPhotosAppended  = "photos.appended"
	EventFavoriteChanged = "favorite.changed"
	EventTagChanged      = "tag.changed"
	EventAlbumReloaded   = "album.reloaded"
	EventFilterChanged   = "filter.changed"
)

// Backend is the subset of the collaborator client the session drives.
type Backend interface {
	ListPhotos(ctx context.Context, limit int, nextToken string) (*models.PhotoPage, error)
	ListFavorites(ctx context.Context) ([]models.Photo, error)
	SetFavorite(ctx context.Context, key string, on bool) error
	ListTags(ctx context.Context, key string) ([]string, error)
	SetTag(ctx context.Context, key, tag string, on bool) error
}

// Notifier receives change events, e.g. to fan them out over SSE.
type Notifier func(kind, key string)

// PageState is the pagination cursor plus the in-flight guard.
type PageState struct {
	NextToken   string `json:"nextToken,omitempty"`
	HasMore     bool   `json:"hasMore"`
	Loading     bool   `json:"loading"`
	Initialized bool   `json:"initialized"`
	Legacy      bool   `json:"legacy,omitempty"`
}

// PageResult reports what one load call did.
type PageResult struct {
	Added      int       `json:"added"`
	Total      int       `json:"total"`
	Retries    int       `json:"retries"`
	Pagination PageState `json:"pagination"`
}

const filterStateKey = "filter_state"

// Session is one viewer's album.
type Session struct {
	be     Backend
	tags   *tagindex.Index
	kv     store.KV
	logger *slog.Logger
	notify Notifier

	pageSize     int
	preload      bool
	maxRetries   int
	retryDelay   time.Duration
	tagLimit     int
	fetchTimeout time.Duration
	sleep        func(ctx context.Context, d time.Duration) error

	more     singleflight.Group
	filterMu sync.Mutex

	mu        sync.Mutex
	photos    []models.Photo
	pos       map[string]int
	favorites map[string]bool
	page      PageState
	filter    view.Filter
	seq       uint64 // last issued fetch
	applied   uint64 // fetches at or below this are stale
	inflight  uint64 // seq holding the guard, 0 when idle
	resets    uint64
	favLocks  map[string]*favLock
	refresh   *time.Timer
	closed    bool
}

// Option configures a Session.
type Option func(*Session)

// WithPageSize sets the limit sent with every page request.
func WithPageSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithFavoritesPreload toggles loading the favorites list ahead of page one.
func WithFavoritesPreload(on bool) Option {
	return func(s *Session) { s.preload = on }
}

// WithEmptyPageRetry bounds the automatic follow-ups after an empty page.
func WithEmptyPageRetry(max int, delay time.Duration) Option {
	return func(s *Session) {
		if max >= 0 {
			s.maxRetries = max
		}
		if delay >= 0 {
			s.retryDelay = delay
		}
	}
}

// WithTagConcurrency bounds parallel tag fetches.
func WithTagConcurrency(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.tagLimit = n
		}
	}
}

// WithFetchTimeout bounds fetches that run detached from the caller: shared
// LoadMore requests and scheduled refreshes.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithStore persists the filter selection.
func WithStore(kv store.KV) Option {
	return func(s *Session) { s.kv = kv }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithNotifier sets the change-event hook.
func WithNotifier(n Notifier) Option {
	return func(s *Session) { s.notify = n }
}

// New creates an empty, unloaded session. tags is shared and survives reloads.
func New(be Backend, tags *tagindex.Index, opts ...Option) *Session {
	s := &Session{
		be:           be,
		tags:         tags,
		kv:           store.NewMemory(),
		logger:       slog.Default(),
		notify:       func(string, string) {},
		pageSize:     24,
		preload:      true,
		maxRetries:   3,
		retryDelay:   300 * time.Millisecond,
		tagLimit:     8,
		fetchTimeout: 2 * time.Minute,
		sleep:        sleepCtx,
		pos:          make(map[string]int),
		favorites:    make(map[string]bool),
		favLocks:     make(map[string]*favLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tags returns the shared tag index.
func (s *Session) Tags() *tagindex.Index { return s.tags }

// Pagination returns a copy of the pagination state.
func (s *Session) Pagination() PageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Photos returns a copy of the collection in merge order.
func (s *Session) Photos() []models.Photo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Photo(nil), s.photos...)
}

// Keys returns every key in the collection.
func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, len(s.photos))
	for i, p := range s.photos {
		keys[i] = p.Key
	}
	return keys
}

// Photo looks up one record.
func (s *Session) Photo(key string) (models.Photo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.pos[key]
	if !ok {
		return models.Photo{}, false
	}
	return s.photos[i], true
}

// IsFavorite reports whether the viewer favorited key.
func (s *Session) IsFavorite(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.favorites[key]
}

// Close stops the pending delayed refresh, if any.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.refresh != nil {
		s.refresh.Stop()
		s.refresh = nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
