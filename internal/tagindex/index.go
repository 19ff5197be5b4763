// Package tagindex maintains the per-photo tag sets as they arrive batch by
// batch during pagination.
//
// Fetched tag sets replace a key's entry, but every write carries a
// generation number and an entry is never overwritten by an older generation.
// That keeps a slow, earlier-issued batch from regressing tags that a later
// batch or a user toggle already installed.
package tagindex

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/starford/albumshare/internal/photokey"
)

type entry struct {
	tags map[string]struct{}
	gen  uint64
}

// Index maps photo keys to tag sets. It is safe for concurrent use.
type Index struct {
	people []string

	mu      sync.RWMutex
	gen     uint64
	entries map[string]*entry
}

// New creates an empty index. people is the ordered list of base tags shown
// first in every tag list.
func New(people ...string) *Index {
	return &Index{
		people:  people,
		entries: make(map[string]*entry),
	}
}

// Begin opens a new generation. Callers take one per fetched batch and pass
// it to Apply for every key of that batch.
func (x *Index) Begin() uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.gen++
	return x.gen
}

// Apply installs the result of one tag fetch. On success the fetched set
// becomes the key's tags, with the derived year and month added unless the
// fetched set already carries a year or month. On failure (fetchErr != nil)
// the derived tags are merged into whatever the key already had, so a key
// is never left absent and never loses tags because of a failed fetch.
//
// It reports false when the key already holds a newer generation.
func (x *Index) Apply(gen uint64, key string, fetched []string, fetchErr error) bool {
	derived := photokey.DerivedTags(key)

	x.mu.Lock()
	defer x.mu.Unlock()

	cur, ok := x.entries[key]
	if ok && cur.gen > gen {
		return false
	}

	next := make(map[string]struct{})
	if fetchErr != nil {
		if ok {
			for t := range cur.tags {
				next[t] = struct{}{}
			}
		}
		for _, t := range derived {
			next[t] = struct{}{}
		}
	} else {
		for _, t := range fetched {
			if t != "" {
				next[t] = struct{}{}
			}
		}
		hasYear := lo.SomeBy(fetched, photokey.IsYear)
		hasMonth := lo.SomeBy(fetched, photokey.IsMonth)
		for _, t := range derived {
			if (photokey.IsYear(t) && hasYear) || (photokey.IsMonth(t) && hasMonth) {
				continue
			}
			next[t] = struct{}{}
		}
	}

	x.entries[key] = &entry{tags: next, gen: gen}
	return true
}

// Add records a confirmed user tag.
func (x *Index) Add(key, tag string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.gen++
	e := x.entryLocked(key)
	e.tags[tag] = struct{}{}
	e.gen = x.gen
}

// Remove drops a confirmed user tag.
func (x *Index) Remove(key, tag string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.gen++
	e := x.entryLocked(key)
	delete(e.tags, tag)
	e.gen = x.gen
}

func (x *Index) entryLocked(key string) *entry {
	e, ok := x.entries[key]
	if !ok {
		e = &entry{tags: make(map[string]struct{})}
		x.entries[key] = e
	}
	return e
}

// Known reports whether the key has an entry at all.
func (x *Index) Known(key string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.entries[key]
	return ok
}

// Has reports whether key carries tag.
func (x *Index) Has(key, tag string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[key]
	if !ok {
		return false
	}
	_, ok = e.tags[tag]
	return ok
}

// Tags returns the key's tags in display order; empty when unknown.
func (x *Index) Tags(key string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[key]
	if !ok {
		return []string{}
	}
	return Order(lo.Keys(e.tags), x.people)
}

// Snapshot copies the whole index in display order.
func (x *Index) Snapshot() map[string][]string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string][]string, len(x.entries))
	for k, e := range x.entries {
		out[k] = Order(lo.Keys(e.tags), x.people)
	}
	return out
}

// AllTags returns every tag in use, in display order.
func (x *Index) AllTags() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, e := range x.entries {
		for t := range e.tags {
			seen[t] = struct{}{}
		}
	}
	return Order(lo.Keys(seen), x.people)
}

// Len returns the number of keys with an entry.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// People returns the configured base tags.
func (x *Index) People() []string {
	return append([]string(nil), x.people...)
}

// Order sorts tags for display: people tags in their configured order, then
// years ascending, then months in calendar order, then everything else
// alphabetically. Duplicates are dropped.
func Order(tags []string, people []string) []string {
	rank := make(map[string]int, len(people))
	for i, p := range people {
		rank[p] = i
	}

	category := func(t string) int {
		switch {
		case hasKey(rank, t):
			return 0
		case photokey.IsYear(t):
			return 1
		case photokey.IsMonth(t):
			return 2
		default:
			return 3
		}
	}

	out := lo.Uniq(tags)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ca, cb := category(a), category(b)
		if ca != cb {
			return ca < cb
		}
		switch ca {
		case 0:
			return rank[a] < rank[b]
		case 2:
			return photokey.MonthIndex(a) < photokey.MonthIndex(b)
		default:
			return a < b
		}
	})
	return out
}

func hasKey(m map[string]int, k string) bool {
	_, ok := m[k]
	return ok
}
