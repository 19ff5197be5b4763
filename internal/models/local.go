package models

import "time"

// LocalFile describes one image waiting in the drop folder.
type LocalFile struct {
	Path      string    `json:"path"` // relative to the drop folder
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updatedAt"`
}
