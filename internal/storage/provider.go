// Package storage defines the drop-folder file-system abstraction.
package storage

import "github.com/starford/albumshare/internal/models"

// Provider is the interface for drop-folder file operations.
type Provider interface {
	// List returns metadata for every image file under dir (relative to the
	// root), skipping the archive directories.
	List(dir string) ([]models.LocalFile, error)
	// Read returns the raw bytes of the file at path (relative to the root).
	Read(path string) ([]byte, error)
	// Move renames oldPath to newPath (both relative to the root).
	Move(oldPath, newPath string) error
}
