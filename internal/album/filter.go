package album

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/albumshare/internal/apperr"
	"github.com/starford/albumshare/internal/store"
	"github.com/starford/albumshare/internal/view"
)

// View returns the visible photos under the current filter.
func (s *Session) View() []view.Item {
	return s.ViewWith(s.Filter())
}

// ViewWith returns the visible photos under f without touching the saved
// selection.
func (s *Session) ViewWith(f view.Filter) []view.Item {
	return view.Build(s.Photos(), s.tags, f)
}

// Facets lists the filter values the loaded collection offers.
func (s *Session) Facets() view.Facets {
	return view.BuildFacets(s.Photos(), s.tags.AllTags())
}

// Filter returns the current selection.
func (s *Session) Filter() view.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// SetFilter replaces the selection and persists it.
func (s *Session) SetFilter(ctx context.Context, f view.Filter) (view.Filter, error) {
	return s.updateFilter(ctx, func(view.Filter) (view.Filter, error) { return f, nil })
}

// ToggleFilter flips one value of kind ("tag", "year" or "month").
func (s *Session) ToggleFilter(ctx context.Context, kind, value string) (view.Filter, error) {
	if value == "" {
		return s.Filter(), fmt.Errorf("album: toggle filter: empty value: %w", apperr.ErrInvalidInput)
	}
	return s.updateFilter(ctx, func(cur view.Filter) (view.Filter, error) {
		f, ok := cur.Toggle(kind, value)
		if !ok {
			return cur, fmt.Errorf("album: toggle filter: unknown kind %q: %w", kind, apperr.ErrInvalidInput)
		}
		return f, nil
	})
}

// ClearFilter drops every selection.
func (s *Session) ClearFilter(ctx context.Context) (view.Filter, error) {
	return s.updateFilter(ctx, func(cur view.Filter) (view.Filter, error) { return cur.Clear(), nil })
}

// updateFilter applies change to the current selection and persists the
// result. Updates are serialized so concurrent changes compose and the stored
// selection matches the last one applied.
func (s *Session) updateFilter(ctx context.Context, change func(view.Filter) (view.Filter, error)) (view.Filter, error) {
	s.filterMu.Lock()
	defer s.filterMu.Unlock()

	s.mu.Lock()
	f, err := change(s.filter)
	if err != nil {
		s.mu.Unlock()
		return f, err
	}
	s.filter = f
	s.mu.Unlock()

	if err := store.SetJSON(ctx, s.kv, filterStateKey, f); err != nil {
		return f, fmt.Errorf("album: save filter: %w", err)
	}
	s.notify(EventFilterChanged, "")
	return f, nil
}

// RestoreFilter loads the selection saved by an earlier process.
func (s *Session) RestoreFilter(ctx context.Context) error {
	var f view.Filter
	ok, err := store.GetJSON(ctx, s.kv, filterStateKey, &f)
	if err != nil {
		return fmt.Errorf("album: restore filter: %w", err)
	}
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
	s.logger.Info("album: filter restored",
		slog.String("tag", f.Tag),
		slog.Int("years", len(f.Years)),
		slog.Int("months", len(f.Months)))
	return nil
}
