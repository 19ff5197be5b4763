package api

import (
	"github.com/starford/albumshare/internal/album"
	"github.com/starford/albumshare/internal/view"
)

// PhotoListResponse is the visible photo list.
type PhotoListResponse struct {
	Photos     []view.Item     `json:"photos" validate:"required"`
	Total      int             `json:"total" example:"42" validate:"required"`
	Filter     view.Filter     `json:"filter"`
	Pagination album.PageState `json:"pagination"`
}

// FilterToggleRequest flips one filter value.
type FilterToggleRequest struct {
	Kind  string `json:"kind" example:"year" validate:"required"`
	Value string `json:"value" example:"2020" validate:"required"`
}

// FavoriteResponse is the favorite state of one photo after a change.
type FavoriteResponse struct {
	Key           string `json:"key" example:"2020_June_Beach.jpg" validate:"required"`
	IsFavorite    bool   `json:"isFavorite"`
	FavoriteCount int    `json:"favoriteCount"`
}

// TagRequest adds or removes one tag on one photo.
type TagRequest struct {
	PhotoKey string `json:"photoKey" example:"2020_June_Beach.jpg" validate:"required"`
	Tag      string `json:"tag" example:"Mom" validate:"required"`
}

// TagsResponse lists the tags of one photo in canonical order.
type TagsResponse struct {
	Key  string   `json:"key" validate:"required"`
	Tags []string `json:"tags" validate:"required"`
}

// BulkTagRequest applies one tag to many photos.
type BulkTagRequest struct {
	Tag       string   `json:"tag" example:"Beach" validate:"required"`
	PhotoKeys []string `json:"photoKeys" validate:"required"`
}

// CustomTagRequest adds a tag to the user vocabulary.
type CustomTagRequest struct {
	Tag string `json:"tag" example:"Grandpa" validate:"required"`
}

// CustomTagsResponse is the user vocabulary.
type CustomTagsResponse struct {
	Tags []string `json:"tags" validate:"required"`
}
