// Package models defines the domain types shared by the album packages.
package models

// Photo is one stored image reference as returned by the photo listing.
type Photo struct {
	Key           string `json:"key"`
	URL           string `json:"url"`
	IsFavorite    bool   `json:"isFavorite,omitempty"`
	FavoriteCount *int   `json:"favoriteCount,omitempty"` // global count across viewers
}

// Favorites returns FavoriteCount, treating an absent count as zero.
func (p Photo) Favorites() int {
	if p.FavoriteCount == nil {
		return 0
	}
	return *p.FavoriteCount
}

// Pagination is the envelope attached to paginated photo listings.
type Pagination struct {
	NextToken string `json:"nextToken,omitempty"`
	HasMore   bool   `json:"hasMore"`
}

// PhotoPage is one page of the photo listing. Legacy is set when the
// collaborator answered with a bare array instead of the envelope.
type PhotoPage struct {
	Photos     []Photo    `json:"photos"`
	Pagination Pagination `json:"pagination"`
	Legacy     bool       `json:"-"`
}

// UploadSlot is a pre-signed destination for one file.
type UploadSlot struct {
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
}

// IntPtr is a small helper for building optional counts.
func IntPtr(v int) *int {
	return &v
}
