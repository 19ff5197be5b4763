package album

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/starford/albumshare/internal/apperr"
	"github.com/starford/albumshare/internal/models"
)

// ToggleFavorite flips the viewer's favorite mark on key and returns the new
// state. The change is visible immediately; if the collaborator rejects it
// the record is restored to exactly its pre-toggle snapshot.
func (s *Session) ToggleFavorite(ctx context.Context, key string) (bool, error) {
	return s.changeFavorite(ctx, key, func(cur bool) bool { return !cur })
}

// SetFavorite drives the mark to on. It is a no-op when already there.
func (s *Session) SetFavorite(ctx context.Context, key string, on bool) (bool, error) {
	return s.changeFavorite(ctx, key, func(bool) bool { return on })
}

func (s *Session) changeFavorite(ctx context.Context, key string, next func(cur bool) bool) (bool, error) {
	// Toggles on one key are queued: the second waits for the first's answer.
	s.lockFavorite(key)
	defer s.unlockFavorite(key)

	s.mu.Lock()
	i, ok := s.pos[key]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("album: favorite %s: %w", key, apperr.ErrNotFound)
	}
	snapshot := s.photos[i]
	wasFav := s.favorites[key] || snapshot.IsFavorite
	want := next(wasFav)
	if want == wasFav {
		s.mu.Unlock()
		return wasFav, nil
	}
	resets := s.resets
	rec := snapshot
	rec.IsFavorite = want
	if rec.FavoriteCount != nil {
		n := *rec.FavoriteCount
		if want {
			n++
		} else if n > 0 {
			n--
		}
		rec.FavoriteCount = models.IntPtr(n)
	}
	s.photos[i] = rec
	s.setFavLocked(key, want)
	s.mu.Unlock()
	s.notify(EventFavoriteChanged, key)

	if err := s.be.SetFavorite(ctx, key, want); err != nil {
		s.mu.Lock()
		// A reload in between replaced the collection; nothing to restore.
		if j, ok := s.pos[key]; ok && s.resets == resets {
			s.photos[j] = snapshot
			s.setFavLocked(key, wasFav)
		}
		s.mu.Unlock()
		s.notify(EventFavoriteChanged, key)
		s.logger.Warn("album: favorite rolled back", slog.String("key", key), slog.Any("error", err))
		return wasFav, fmt.Errorf("album: favorite %s: %w", key, err)
	}
	return want, nil
}

func (s *Session) setFavLocked(key string, on bool) {
	if on {
		s.favorites[key] = true
	} else {
		delete(s.favorites, key)
	}
}

// favLock queues favorite changes on one key. Entries live only while some
// caller holds or waits for them.
type favLock struct {
	mu   sync.Mutex
	refs int
}

func (s *Session) lockFavorite(key string) {
	s.mu.Lock()
	l, ok := s.favLocks[key]
	if !ok {
		l = &favLock{}
		s.favLocks[key] = l
	}
	l.refs++
	s.mu.Unlock()
	l.mu.Lock()
}

func (s *Session) unlockFavorite(key string) {
	s.mu.Lock()
	l := s.favLocks[key]
	l.refs--
	if l.refs == 0 {
		delete(s.favLocks, key)
	}
	s.mu.Unlock()
	l.mu.Unlock()
}

// ToggleTag adds tag to key when absent and removes it when present. The tag
// index only changes once the collaborator confirms.
func (s *Session) ToggleTag(ctx context.Context, key, tag string) (bool, error) {
	tag = strings.TrimSpace(tag)
	on := !s.tags.Has(key, tag)
	if err := s.SetTag(ctx, key, tag, on); err != nil {
		return !on, err
	}
	return on, nil
}

// SetTag adds (on) or removes tag on key after the collaborator confirms.
func (s *Session) SetTag(ctx context.Context, key, tag string, on bool) error {
	tag = strings.TrimSpace(tag)
	if key == "" || tag == "" {
		return fmt.Errorf("album: tag: photo key and tag are required: %w", apperr.ErrInvalidInput)
	}
	if err := s.be.SetTag(ctx, key, tag, on); err != nil {
		return fmt.Errorf("album: tag %s on %s: %w", tag, key, err)
	}
	if on {
		s.tags.Add(key, tag)
	} else {
		s.tags.Remove(key, tag)
	}
	s.notify(EventTagChanged, key)
	return nil
}

// Bulk outcome statuses.
const (
	BulkTagged  = "tagged"
	BulkSkipped = "skipped"
	BulkFailed  = "failed"
)

// BulkOutcome is the result for one key of a bulk tag run.
type BulkOutcome struct {
	Key    string `json:"key"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// BulkResult summarises BulkTag.
type BulkResult struct {
	Tag      string        `json:"tag"`
	Tagged   int           `json:"tagged"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Outcomes []BulkOutcome `json:"outcomes"`
}

// BulkTag applies one tag to many photos, one request at a time. Keys that
// already carry the tag are skipped; failures do not stop the run.
func (s *Session) BulkTag(ctx context.Context, tag string, keys []string) (BulkResult, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return BulkResult{}, fmt.Errorf("album: bulk tag: tag is required: %w", apperr.ErrInvalidInput)
	}
	res := BulkResult{Tag: tag, Outcomes: []BulkOutcome{}}
	for _, key := range lo.Uniq(lo.Filter(keys, func(k string, _ int) bool { return k != "" })) {
		if s.tags.Has(key, tag) {
			res.Skipped++
			res.Outcomes = append(res.Outcomes, BulkOutcome{Key: key, Status: BulkSkipped})
			continue
		}
		if err := s.SetTag(ctx, key, tag, true); err != nil {
			res.Failed++
			res.Outcomes = append(res.Outcomes, BulkOutcome{Key: key, Status: BulkFailed, Error: err.Error()})
			continue
		}
		res.Tagged++
		res.Outcomes = append(res.Outcomes, BulkOutcome{Key: key, Status: BulkTagged})
	}
	s.logger.Info("album: bulk tag",
		slog.String("tag", tag),
		slog.Int("tagged", res.Tagged),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	return res, nil
}
