package tagindex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/albumshare/internal/store"
)

var errFetch = errors.New("tags endpoint down")

func TestApplyReplacesAndAddsDerived(t *testing.T) {
	x := New("Karen", "Bob")
	gen := x.Begin()

	require.True(t, x.Apply(gen, "2020_June_1_a.jpg", []string{"Bob", "Karen"}, nil))
	assert.Equal(t, []string{"Karen", "Bob", "2020", "June"}, x.Tags("2020_June_1_a.jpg"))

	// A later fetch replaces the set rather than unioning it.
	require.True(t, x.Apply(x.Begin(), "2020_June_1_a.jpg", []string{"Bob"}, nil))
	assert.Equal(t, []string{"Bob", "2020", "June"}, x.Tags("2020_June_1_a.jpg"))
}

func TestApplyKeepsBackendYear(t *testing.T) {
	x := New()
	x.Apply(x.Begin(), "1987_June_003.jpg", []string{"1988"}, nil)
	assert.Equal(t, []string{"1988", "June"}, x.Tags("1987_June_003.jpg"))
}

func TestApplyFailureInstallsDerivedFallback(t *testing.T) {
	x := New()
	require.True(t, x.Apply(x.Begin(), "1987_June_003.jpg", nil, errFetch))
	assert.True(t, x.Known("1987_June_003.jpg"))
	assert.Equal(t, []string{"1987", "June"}, x.Tags("1987_June_003.jpg"))

	// Nothing derivable still leaves an (empty) entry.
	require.True(t, x.Apply(x.Begin(), "vacation.jpg", nil, errFetch))
	assert.True(t, x.Known("vacation.jpg"))
	assert.Empty(t, x.Tags("vacation.jpg"))
}

func TestApplyFailureKeepsExistingTags(t *testing.T) {
	x := New("Karen")
	x.Apply(x.Begin(), "2020_June_1.jpg", []string{"Karen"}, nil)
	x.Apply(x.Begin(), "2020_June_1.jpg", nil, errFetch)
	assert.Equal(t, []string{"Karen", "2020", "June"}, x.Tags("2020_June_1.jpg"))
}

func TestApplyOlderGenerationDoesNotRegress(t *testing.T) {
	x := New("Karen")
	older := x.Begin()
	newer := x.Begin()

	require.True(t, x.Apply(newer, "a.jpg", []string{"Karen"}, nil))
	assert.False(t, x.Apply(older, "a.jpg", []string{}, nil))
	assert.Equal(t, []string{"Karen"}, x.Tags("a.jpg"))
}

func TestUserToggleBeatsInFlightFetch(t *testing.T) {
	x := New()
	gen := x.Begin()
	x.Add("a.jpg", "Beach")
	assert.False(t, x.Apply(gen, "a.jpg", nil, nil))
	assert.True(t, x.Has("a.jpg", "Beach"))

	x.Remove("a.jpg", "Beach")
	assert.False(t, x.Has("a.jpg", "Beach"))
	assert.True(t, x.Known("a.jpg"))
}

func TestTagsUnknownKey(t *testing.T) {
	x := New()
	assert.Equal(t, []string{}, x.Tags("nope.jpg"))
	assert.False(t, x.Has("nope.jpg", "x"))
	assert.Equal(t, 0, x.Len())
}

func TestOrder(t *testing.T) {
	got := Order([]string{"zoo", "March", "Bob", "2019", "Beach", "January", "1987", "Karen", "Bob"}, []string{"Karen", "Bob"})
	assert.Equal(t, []string{"Karen", "Bob", "1987", "2019", "January", "March", "Beach", "zoo"}, got)
}

func TestSnapshotAndAllTags(t *testing.T) {
	x := New("Karen")
	x.Apply(x.Begin(), "2020_June_1.jpg", []string{"Karen"}, nil)
	x.Apply(x.Begin(), "2019_March_2.jpg", []string{"Beach"}, nil)

	snap := x.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, []string{"2019", "March", "Beach"}, snap["2019_March_2.jpg"])
	assert.Equal(t, []string{"Karen", "2019", "2020", "March", "June", "Beach"}, x.AllTags())
}

func TestCustomTags(t *testing.T) {
	ctx := context.Background()
	c := NewCustomTags(store.NewMemory())

	tags, err := c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, tags)

	_, err = c.Add(ctx, "Wedding")
	require.NoError(t, err)
	tags, err = c.Add(ctx, " beach ")
	require.NoError(t, err)
	assert.Equal(t, []string{"Wedding", "beach"}, tags)

	tags, err = c.Add(ctx, "WEDDING")
	require.NoError(t, err)
	assert.Len(t, tags, 2)

	_, err = c.Add(ctx, "  ")
	assert.Error(t, err)

	tags, err = c.Remove(ctx, "wedding")
	require.NoError(t, err)
	assert.Equal(t, []string{"beach"}, tags)

	tags, err = c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"beach"}, tags)
}
