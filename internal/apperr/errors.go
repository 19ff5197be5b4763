// Package apperr holds the sentinel errors shared across the album packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrUnauthenticated means no usable credential could be obtained or the
	// collaborator rejected it. It is never retried.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrTransport covers network failures and non-2xx collaborator responses.
	ErrTransport = errors.New("transport failure")

	ErrBusy          = errors.New("fetch already in flight")
	ErrExhausted     = errors.New("no more pages")
	ErrNotLoaded     = errors.New("album not loaded")
	ErrAlreadyLoaded = errors.New("album already loaded")

	ErrTotalUploadFailure = errors.New("every upload in the batch failed")
)
