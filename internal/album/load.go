package album

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/starford/albumshare/internal/apperr"
	"github.com/starford/albumshare/internal/models"
	"github.com/starford/albumshare/internal/photokey"
)

var errStale = fmt.Errorf("album: response superseded by a reload: %w", apperr.ErrConflict)

// batch is the outcome of one merged page.
type batch struct {
	added     []string
	pageEmpty bool // the page itself held nothing after dedup
}

// LoadInitial loads the favorites list (when enabled) and the first page,
// then keeps following the cursor while pages come back empty, up to the
// configured retry bound.
func (s *Session) LoadInitial(ctx context.Context) (PageResult, error) {
	s.mu.Lock()
	if s.page.Initialized {
		s.mu.Unlock()
		return PageResult{}, fmt.Errorf("album: load initial: %w", apperr.ErrAlreadyLoaded)
	}
	if s.inflight != 0 {
		s.mu.Unlock()
		return PageResult{}, fmt.Errorf("album: load initial: %w", apperr.ErrBusy)
	}
	seq := s.beginLocked()
	s.mu.Unlock()

	var favs []models.Photo
	if s.preload {
		f, err := s.be.ListFavorites(ctx)
		switch {
		case errors.Is(err, apperr.ErrUnauthenticated):
			s.release(seq)
			return PageResult{}, fmt.Errorf("album: load favorites: %w", err)
		case err != nil:
			s.logger.Warn("album: favorites preload failed", slog.Any("error", err))
		default:
			favs = f
		}
	}

	page, err := s.be.ListPhotos(ctx, s.pageSize, "")
	if err != nil {
		s.release(seq)
		s.logger.Warn("album: first page failed", slog.Any("error", err))
		return PageResult{}, fmt.Errorf("album: load initial: %w", err)
	}
	b, err := s.merge(ctx, seq, favs, page, true)
	if err != nil {
		return PageResult{}, err
	}

	res := PageResult{Added: len(b.added)}
	for b.pageEmpty && res.Retries < s.maxRetries {
		st := s.Pagination()
		if !st.HasMore || st.NextToken == "" {
			break
		}
		if err := s.sleep(ctx, s.retryDelay); err != nil {
			return s.result(res), fmt.Errorf("album: auto retry: %w", err)
		}
		res.Retries++
		s.logger.Debug("album: empty page, following cursor", slog.Int("retry", res.Retries))

		b, err = s.nextShared(ctx)
		if errors.Is(err, apperr.ErrBusy) {
			break
		}
		if err != nil {
			return s.result(res), fmt.Errorf("album: auto retry %d: %w", res.Retries, err)
		}
		res.Added += len(b.added)
	}
	return s.result(res), nil
}

// LoadMore fetches the page after the current cursor. Concurrent calls share
// one request.
func (s *Session) LoadMore(ctx context.Context) (PageResult, error) {
	b, err := s.nextShared(ctx)
	if err != nil {
		return s.result(PageResult{}), err
	}
	return s.result(PageResult{Added: len(b.added)}), nil
}

// Reload drops the collection, the favorites and the cursor, then loads from
// the start. The tag index is kept.
func (s *Session) Reload(ctx context.Context) (PageResult, error) {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()

	res, err := s.LoadInitial(ctx)
	if err != nil {
		return res, err
	}
	s.notify(EventAlbumReloaded, "")
	return res, nil
}

// ScheduleRefresh reloads the album once after delay. Scheduling again before
// it fires replaces the pending refresh.
func (s *Session) ScheduleRefresh(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.refresh != nil {
		s.refresh.Stop()
	}
	s.refresh = time.AfterFunc(delay, func() {
		s.mu.Lock()
		closed := s.closed
		s.refresh = nil
		s.mu.Unlock()
		if closed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
		defer cancel()
		if _, err := s.Reload(ctx); err != nil {
			s.logger.Warn("album: scheduled refresh failed", slog.Any("error", err))
		}
	})
}

func (s *Session) nextShared(ctx context.Context) (batch, error) {
	s.mu.Lock()
	key := strconv.FormatUint(s.applied, 10)
	s.mu.Unlock()

	// The shared fetch outlives any one caller; a cancelled first caller must
	// not fail the others.
	v, err, shared := s.more.Do(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.next(fctx)
	})
	if shared {
		s.logger.Debug("album: load more coalesced")
	}
	if err != nil {
		return batch{}, err
	}
	return v.(batch), nil
}

func (s *Session) next(ctx context.Context) (batch, error) {
	s.mu.Lock()
	switch {
	case !s.page.Initialized:
		s.mu.Unlock()
		return batch{}, fmt.Errorf("album: load more: %w", apperr.ErrNotLoaded)
	case s.inflight != 0:
		s.mu.Unlock()
		return batch{}, fmt.Errorf("album: load more: %w", apperr.ErrBusy)
	case !s.page.HasMore || s.page.NextToken == "":
		s.mu.Unlock()
		return batch{}, fmt.Errorf("album: load more: %w", apperr.ErrExhausted)
	}
	token := s.page.NextToken
	seq := s.beginLocked()
	s.mu.Unlock()

	page, err := s.be.ListPhotos(ctx, s.pageSize, token)
	if err != nil {
		s.release(seq)
		s.logger.Warn("album: page failed", slog.Any("error", err))
		return batch{}, fmt.Errorf("album: load more: %w", err)
	}
	return s.merge(ctx, seq, nil, page, false)
}

// beginLocked issues a sequence number and takes the in-flight guard.
func (s *Session) beginLocked() uint64 {
	s.seq++
	s.inflight = s.seq
	s.page.Loading = true
	return s.seq
}

func (s *Session) release(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(seq)
}

func (s *Session) releaseLocked(seq uint64) {
	if s.inflight == seq {
		s.inflight = 0
		s.page.Loading = false
	}
}

func (s *Session) resetLocked() {
	s.photos = nil
	s.pos = make(map[string]int)
	s.favorites = make(map[string]bool)
	s.page = PageState{}
	s.applied = s.seq
	s.inflight = 0
	s.resets++
}

// merge applies one response: favorites first, then the page, then dedup of
// the whole collection, then the cursor. Tags are resolved for the new keys.
func (s *Session) merge(ctx context.Context, seq uint64, favs []models.Photo, page *models.PhotoPage, initial bool) (batch, error) {
	s.mu.Lock()
	s.releaseLocked(seq)
	if seq <= s.applied {
		s.mu.Unlock()
		s.logger.Debug("album: stale response dropped", slog.Uint64("seq", seq))
		return batch{}, errStale
	}
	s.applied = seq

	var added []string
	for _, f := range favs {
		f.IsFavorite = true
		s.favorites[f.Key] = true
		if s.addLocked(f) {
			added = append(added, f.Key)
		}
	}
	for _, p := range page.Photos {
		if p.Key == "" {
			continue
		}
		// The page's own mark counts too: the preload may be off or have failed.
		if p.IsFavorite || s.favorites[p.Key] {
			p.IsFavorite = true
			s.favorites[p.Key] = true
		}
		if s.addLocked(p) {
			added = append(added, p.Key)
		}
	}
	added = s.dedupeLocked(added)

	if page.Legacy {
		s.page.Legacy = true
		s.page.HasMore = false
		s.page.NextToken = ""
	} else {
		s.page.NextToken = page.Pagination.NextToken
		s.page.HasMore = page.Pagination.HasMore && page.Pagination.NextToken != ""
	}
	if initial {
		s.page.Initialized = true
	}
	total := len(s.photos)
	st := s.page
	s.mu.Unlock()

	pageKeys := lo.FilterMap(page.Photos, func(p models.Photo, _ int) (string, bool) { return p.Key, p.Key != "" })
	b := batch{added: added, pageEmpty: len(photokey.Dedupe(pageKeys)) == 0}

	s.logger.Info("album: page merged",
		slog.Uint64("seq", seq),
		slog.Int("page", len(page.Photos)),
		slog.Int("added", len(added)),
		slog.Int("total", total),
		slog.Bool("has_more", st.HasMore))

	s.resolveTags(ctx, added)
	if len(added) > 0 {
		s.notify(EventPhotosAppended, "")
	}
	return b, nil
}

// addLocked appends p, or folds it into the existing record with the same
// key. It reports whether p was new.
func (s *Session) addLocked(p models.Photo) bool {
	if i, ok := s.pos[p.Key]; ok {
		cur := s.photos[i]
		if p.URL != "" {
			cur.URL = p.URL
		}
		if p.FavoriteCount != nil {
			cur.FavoriteCount = p.FavoriteCount
		}
		cur.IsFavorite = cur.IsFavorite || p.IsFavorite
		s.photos[i] = cur
		return false
	}
	s.pos[p.Key] = len(s.photos)
	s.photos = append(s.photos, p)
	return true
}

// dedupeLocked drops records superseded by an enhanced sibling and returns
// the subset of added that survived.
func (s *Session) dedupeLocked(added []string) []string {
	keys := make([]string, len(s.photos))
	for i, p := range s.photos {
		keys[i] = p.Key
	}
	kept := photokey.Dedupe(keys)
	if len(kept) == len(keys) {
		return added
	}
	keep := make(map[string]struct{}, len(kept))
	for _, k := range kept {
		keep[k] = struct{}{}
	}
	photos := s.photos[:0]
	s.pos = make(map[string]int, len(kept))
	for _, p := range s.photos {
		if _, ok := keep[p.Key]; !ok {
			continue
		}
		s.pos[p.Key] = len(photos)
		photos = append(photos, p)
	}
	s.photos = photos
	return lo.Filter(added, func(k string, _ int) bool {
		_, ok := keep[k]
		return ok
	})
}

// resolveTags fetches tags for keys with bounded parallelism. A failed fetch
// installs the derived year/month tags for that key only.
func (s *Session) resolveTags(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	gen := s.tags.Begin()
	var g errgroup.Group
	g.SetLimit(s.tagLimit)
	for _, key := range keys {
		g.Go(func() error {
			tags, err := s.be.ListTags(ctx, key)
			if err != nil {
				s.logger.Debug("album: tag fetch failed, using derived tags",
					slog.String("key", key), slog.Any("error", err))
			}
			s.tags.Apply(gen, key, tags, err)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Session) result(r PageResult) PageResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Total = len(s.photos)
	r.Pagination = s.page
	return r
}
