// Package photokey derives metadata from photo object keys using the album's
// filename convention: <dir>/<basename>[_a|_b].jpg, where the basename usually
// starts with a year and carries a month name.
package photokey

import (
	"path"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// Variant classifies a rendition of a logical photo.
type Variant int

const (
	// Plain is the unsuffixed scan.
	Plain Variant = iota
	// Enhanced is the "_a" rendition; it supersedes its siblings.
	Enhanced
	// Back is the "_b" rendition (reverse side of a print).
	Back
)

func (v Variant) String() string {
	switch v {
	case Enhanced:
		return "enhanced"
	case Back:
		return "back"
	default:
		return "plain"
	}
}

// Months lists the canonical month names in calendar order.
var Months = [12]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

var (
	conventionRe = regexp.MustCompile(`(?i)^(.+?)(_a|_b)?\.jpg$`)
	yearRe       = regexp.MustCompile(`^(19|20)\d\d`)
	digitRe      = regexp.MustCompile(`^\d`)
	// uploadPrefixRe matches the "<timestamp>_<id>_" prefix the upload
	// collaborator puts in front of the original file name.
	uploadPrefixRe = regexp.MustCompile(`^\d{10,}_[0-9A-Za-z-]+_`)
)

// Info is everything derivable from a key.
type Info struct {
	Key          string
	Dir          string
	Name         string // path-stripped filename
	Base         string // filename without rendition suffix and extension
	Variant      Variant
	Conventional bool // matches <basename>[_a|_b].jpg
	Year         string
	Month        string
}

// Group identifies the logical photo: directory plus basename.
func (i Info) Group() string {
	if i.Dir == "" {
		return i.Base
	}
	return i.Dir + "/" + i.Base
}

// Parse splits a key into its convention parts.
func Parse(key string) Info {
	dir, name := path.Split(key)
	info := Info{
		Key:   key,
		Dir:   strings.TrimSuffix(dir, "/"),
		Name:  name,
		Base:  name,
		Year:  yearOf(name),
		Month: monthOf(name),
	}
	m := conventionRe.FindStringSubmatch(name)
	if m == nil {
		return info
	}
	info.Conventional = true
	info.Base = m[1]
	switch strings.ToLower(m[2]) {
	case "_a":
		info.Variant = Enhanced
	case "_b":
		info.Variant = Back
	}
	return info
}

// Dedupe drops every rendition superseded by an enhanced ("_a") sibling in the
// same directory. Order is preserved and non-conforming keys pass through.
func Dedupe(keys []string) []string {
	infos := lo.Map(keys, func(k string, _ int) Info { return Parse(k) })

	enhanced := make(map[string]struct{})
	for _, in := range infos {
		if in.Conventional && in.Variant == Enhanced {
			enhanced[in.Group()] = struct{}{}
		}
	}

	out := make([]string, 0, len(keys))
	for _, in := range infos {
		if !in.Conventional || in.Variant == Enhanced {
			out = append(out, in.Key)
			continue
		}
		if _, superseded := enhanced[in.Group()]; superseded {
			continue
		}
		out = append(out, in.Key)
	}
	return out
}

// ExtractYear returns the leading 19xx/20xx year of the filename.
func ExtractYear(key string) (string, bool) {
	y := yearOf(path.Base(key))
	return y, y != ""
}

// ExtractMonth returns the first canonical month name found anywhere in the
// filename, ignoring case.
func ExtractMonth(key string) (string, bool) {
	m := monthOf(path.Base(key))
	return m, m != ""
}

// MonthIndex returns 0 for January through 11 for December, or -1.
func MonthIndex(name string) int {
	for i, m := range Months {
		if strings.EqualFold(m, name) {
			return i
		}
	}
	return -1
}

// IsYear reports whether tag looks like a derived year tag.
func IsYear(tag string) bool {
	return len(tag) == 4 && yearRe.MatchString(tag)
}

// IsMonth reports whether tag is a canonical month name.
func IsMonth(tag string) bool {
	return MonthIndex(tag) >= 0
}

// DerivedTags returns the year and month tags that can be read off the key.
func DerivedTags(key string) []string {
	var out []string
	if y, ok := ExtractYear(key); ok {
		out = append(out, y)
	}
	if m, ok := ExtractMonth(key); ok {
		out = append(out, m)
	}
	return out
}

// StripUploadPrefix removes the "<timestamp>_<id>_" prefix added on upload so
// a stored name can be compared with a local file name. Best effort: names
// without the prefix are returned unchanged.
func StripUploadPrefix(name string) string {
	return uploadPrefixRe.ReplaceAllString(path.Base(name), "")
}

// IsKnownUpload reports whether fileName matches an existing key once upload
// prefixes are removed. Comparison ignores case.
func IsKnownUpload(fileName string, keys []string) bool {
	want := strings.ToLower(path.Base(fileName))
	return lo.ContainsBy(keys, func(k string) bool {
		return strings.ToLower(StripUploadPrefix(k)) == want
	})
}

func yearOf(name string) string {
	loc := yearRe.FindStringIndex(name)
	if loc == nil {
		return ""
	}
	if digitRe.MatchString(name[loc[1]:]) {
		return ""
	}
	return name[loc[0]:loc[1]]
}

func monthOf(name string) string {
	lower := strings.ToLower(name)
	for _, m := range Months {
		if strings.Contains(lower, strings.ToLower(m)) {
			return m
		}
	}
	return ""
}
