// Package view derives the visible, ordered photo list from the session's
// collection, tag index and filter selections. Everything here is pure and
// recomputed on every state change.
package view

import (
	"sort"

	"github.com/samber/lo"
)

// Filter is the current selection. Tag is a single mutually exclusive
// selection; Years and Months are OR-sets. The three kinds combine with AND.
type Filter struct {
	Tag    string   `json:"tag,omitempty"`
	Years  []string `json:"years,omitempty"`
	Months []string `json:"months,omitempty"`
}

// Filter kinds accepted by Toggle.
const (
	KindTag   = "tag"
	KindYear  = "year"
	KindMonth = "month"
)

// IsZero reports whether nothing is selected.
func (f Filter) IsZero() bool {
	return f.Tag == "" && len(f.Years) == 0 && len(f.Months) == 0
}

// ToggleTag selects tag, or clears the selection when tag is already selected.
func (f Filter) ToggleTag(tag string) Filter {
	if f.Tag == tag {
		f.Tag = ""
	} else {
		f.Tag = tag
	}
	return f
}

// ToggleYear adds or removes year from the selected years.
func (f Filter) ToggleYear(year string) Filter {
	f.Years = toggle(f.Years, year)
	return f
}

// ToggleMonth adds or removes month from the selected months.
func (f Filter) ToggleMonth(month string) Filter {
	f.Months = toggle(f.Months, month)
	return f
}

// Toggle dispatches on kind; ok is false for an unknown kind.
func (f Filter) Toggle(kind, value string) (Filter, bool) {
	switch kind {
	case KindTag:
		return f.ToggleTag(value), true
	case KindYear:
		return f.ToggleYear(value), true
	case KindMonth:
		return f.ToggleMonth(value), true
	default:
		return f, false
	}
}

// Clear drops every selection.
func (f Filter) Clear() Filter {
	return Filter{}
}

// Match reports whether a photo carrying tags is visible under f.
func (f Filter) Match(tags []string) bool {
	if f.Tag != "" && !lo.Contains(tags, f.Tag) {
		return false
	}
	if len(f.Years) > 0 && !intersects(tags, f.Years) {
		return false
	}
	if len(f.Months) > 0 && !intersects(tags, f.Months) {
		return false
	}
	return true
}

func intersects(tags, selected []string) bool {
	return lo.SomeBy(selected, func(s string) bool { return lo.Contains(tags, s) })
}

func toggle(set []string, v string) []string {
	if lo.Contains(set, v) {
		return lo.Without(set, v)
	}
	out := append(append([]string(nil), set...), v)
	sort.Strings(out)
	return out
}
