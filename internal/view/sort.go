package view

import (
	"slices"
	"strconv"
	"strings"

	"github.com/starford/albumshare/internal/models"
	"github.com/starford/albumshare/internal/photokey"
)

// Compare orders photos for display: higher favorite count first, then the
// most recent year (photos with a year before those without), then calendar
// month (photos with a month first), then key.
func Compare(a, b models.Photo) int {
	if fa, fb := a.Favorites(), b.Favorites(); fa != fb {
		if fa > fb {
			return -1
		}
		return 1
	}

	ya, okA := photokey.ExtractYear(a.Key)
	yb, okB := photokey.ExtractYear(b.Key)
	if c := presence(okA, okB); c != 0 {
		return c
	}
	if okA {
		na, _ := strconv.Atoi(ya)
		nb, _ := strconv.Atoi(yb)
		if na != nb {
			if na > nb {
				return -1
			}
			return 1
		}
	}

	ma, okA := photokey.ExtractMonth(a.Key)
	mb, okB := photokey.ExtractMonth(b.Key)
	if c := presence(okA, okB); c != 0 {
		return c
	}
	if okA {
		if ia, ib := photokey.MonthIndex(ma), photokey.MonthIndex(mb); ia != ib {
			return ia - ib
		}
	}

	return strings.Compare(a.Key, b.Key)
}

// presence puts the side that has a value first.
func presence(a, b bool) int {
	switch {
	case a && !b:
		return -1
	case !a && b:
		return 1
	default:
		return 0
	}
}

// Sort orders photos in place with Compare. The sort is stable.
func Sort(photos []models.Photo) {
	slices.SortStableFunc(photos, Compare)
}
