package tagindex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/starford/albumshare/internal/apperr"
	"github.com/starford/albumshare/internal/store"
)

const customTagsKey = "custom_tags"

// CustomTags is the user-defined tag vocabulary, persisted through a KV store.
type CustomTags struct {
	kv store.KV
	mu sync.Mutex
}

// NewCustomTags binds the vocabulary to kv.
func NewCustomTags(kv store.KV) *CustomTags {
	return &CustomTags{kv: kv}
}

// List returns the stored tags sorted alphabetically.
func (c *CustomTags) List(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

// Add stores tag unless an equal tag (ignoring case) is already present.
func (c *CustomTags) Add(ctx context.Context, tag string) ([]string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, fmt.Errorf("tagindex: empty custom tag: %w", apperr.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tags, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if lo.ContainsBy(tags, func(t string) bool { return strings.EqualFold(t, tag) }) {
		return tags, nil
	}
	tags = append(tags, tag)
	sort.Strings(tags)
	return tags, c.save(ctx, tags)
}

// Remove deletes tag (ignoring case).
func (c *CustomTags) Remove(ctx context.Context, tag string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tags, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	kept := lo.Reject(tags, func(t string, _ int) bool { return strings.EqualFold(t, strings.TrimSpace(tag)) })
	if len(kept) == len(tags) {
		return tags, nil
	}
	return kept, c.save(ctx, kept)
}

func (c *CustomTags) load(ctx context.Context) ([]string, error) {
	var tags []string
	if _, err := store.GetJSON(ctx, c.kv, customTagsKey, &tags); err != nil {
		return nil, fmt.Errorf("tagindex: load custom tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	sort.Strings(tags)
	return tags, nil
}

func (c *CustomTags) save(ctx context.Context, tags []string) error {
	if err := store.SetJSON(ctx, c.kv, customTagsKey, tags); err != nil {
		return fmt.Errorf("tagindex: save custom tags: %w", err)
	}
	return nil
}
