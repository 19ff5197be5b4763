package view

import (
	"sort"
	"strconv"

	"github.com/samber/lo"

	"github.com/starford/albumshare/internal/models"
	"github.com/starford/albumshare/internal/photokey"
)

// TagSource resolves the tag set of a photo key.
type TagSource interface {
	Tags(key string) []string
}

// Item is one visible photo with its derived fields.
type Item struct {
	models.Photo
	Tags    []string `json:"tags"`
	Year    string   `json:"year,omitempty"`
	Month   string   `json:"month,omitempty"`
	Variant string   `json:"variant"`
}

// Build returns the visible items: one representative per logical photo,
// those matching f, in Compare order.
func Build(photos []models.Photo, tags TagSource, f Filter) []Item {
	keep := lo.Associate(photokey.Dedupe(lo.Map(photos, func(p models.Photo, _ int) string { return p.Key })),
		func(k string) (string, struct{}) { return k, struct{}{} })

	visible := make([]models.Photo, 0, len(photos))
	for _, p := range photos {
		if _, ok := keep[p.Key]; !ok {
			continue
		}
		if !f.Match(tags.Tags(p.Key)) {
			continue
		}
		visible = append(visible, p)
	}
	Sort(visible)

	items := make([]Item, len(visible))
	for i, p := range visible {
		info := photokey.Parse(p.Key)
		items[i] = Item{
			Photo:   p,
			Tags:    tags.Tags(p.Key),
			Year:    info.Year,
			Month:   info.Month,
			Variant: info.Variant.String(),
		}
	}
	return items
}

// Facets lists the filter values available for a collection.
type Facets struct {
	Years  []string `json:"years"`
	Months []string `json:"months"`
	Tags   []string `json:"tags"`
}

// BuildFacets collects years (newest first) and months (calendar order) from
// the keys, and passes allTags through.
func BuildFacets(photos []models.Photo, allTags []string) Facets {
	var years, months []string
	for _, p := range photos {
		if y, ok := photokey.ExtractYear(p.Key); ok {
			years = append(years, y)
		}
		if m, ok := photokey.ExtractMonth(p.Key); ok {
			months = append(months, m)
		}
	}
	years = lo.Uniq(years)
	sort.Slice(years, func(i, j int) bool {
		a, _ := strconv.Atoi(years[i])
		b, _ := strconv.Atoi(years[j])
		return a > b
	})
	months = lo.Uniq(months)
	sort.Slice(months, func(i, j int) bool {
		return photokey.MonthIndex(months[i]) < photokey.MonthIndex(months[j])
	})
	if allTags == nil {
		allTags = []string{}
	}
	return Facets{Years: years, Months: months, Tags: allTags}
}
