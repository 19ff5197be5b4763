// Package upload sends photos to object storage through pre-signed URLs,
// one file at a time, and reports a per-file summary.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/albumshare/internal/apperr"
	"github.com/starford/albumshare/internal/checksum"
	"github.com/starford/albumshare/internal/models"
	"github.com/starford/albumshare/internal/photokey"
)

// Backend issues upload slots and performs the PUT.
type Backend interface {
	RequestUploadSlot(ctx context.Context, fileName, fileType string) (*models.UploadSlot, error)
	UploadBytes(ctx context.Context, slot *models.UploadSlot, contentType string, body io.Reader, size int64) error
}

// File is one file to upload. Open may be called more than once.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FromBytes wraps in-memory content.
func FromBytes(name string, data []byte) File {
	return File{Name: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

// FromPath wraps a file on disk.
func FromPath(p string) File {
	return File{Name: filepath.Base(p), Open: func() (io.ReadCloser, error) { return os.Open(p) }}
}

// Per-file statuses.
const (
	StatusUploaded = "uploaded"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
)

// Result is the outcome for one file.
type Result struct {
	Name        string `json:"name"`
	Key         string `json:"key,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	Status      string `json:"status"`
	// Duplicate is advisory: the name matches an existing key once the
	// upload prefix is stripped.
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Summary aggregates a batch.
type Summary struct {
	Results   []Result `json:"results"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
}

// Batch statuses.
const (
	BatchComplete = "complete"
	BatchPartial  = "partial"
	BatchFailed   = "failed"
	BatchEmpty    = "empty"
)

// Status classifies the batch. "failed" means nothing got through.
func (s Summary) Status() string {
	switch {
	case s.Succeeded == 0 && s.Failed == 0:
		return BatchEmpty
	case s.Succeeded == 0:
		return BatchFailed
	case s.Failed > 0:
		return BatchPartial
	default:
		return BatchComplete
	}
}

// Uploader runs batches against a Backend.
type Uploader struct {
	be       Backend
	known    func() []string
	skipDups bool
	onDone   func(Summary)
	logger   *slog.Logger
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithKnownKeys supplies the keys already in the album for duplicate checks.
func WithKnownKeys(fn func() []string) Option {
	return func(u *Uploader) { u.known = fn }
}

// WithSkipDuplicates skips files whose name matches a known key instead of
// only flagging them.
func WithSkipDuplicates(on bool) Option {
	return func(u *Uploader) { u.skipDups = on }
}

// WithOnUploaded is called after every batch with at least one success.
func WithOnUploaded(fn func(Summary)) Option {
	return func(u *Uploader) { u.onDone = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *Uploader) { u.logger = l }
}

// New creates an Uploader.
func New(be Backend, opts ...Option) *Uploader {
	u := &Uploader{
		be:     be,
		known:  func() []string { return nil },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload sends files in order. Each failure is recorded and the batch moves
// on. When nothing succeeds and something failed, the summary is returned
// together with apperr.ErrTotalUploadFailure.
func (u *Uploader) Upload(ctx context.Context, files []File) (Summary, error) {
	sum := Summary{Results: make([]Result, 0, len(files))}
	known := u.known()
	seen := make(map[string]string)

	for _, f := range files {
		res := u.one(ctx, f, known, seen)
		switch res.Status {
		case StatusUploaded:
			sum.Succeeded++
		case StatusFailed:
			sum.Failed++
			u.logger.Warn("upload: file failed", slog.String("name", res.Name), slog.String("error", res.Error))
		case StatusSkipped:
			sum.Skipped++
		}
		sum.Results = append(sum.Results, res)
	}

	u.logger.Info("upload: batch done",
		slog.String("status", sum.Status()),
		slog.Int("succeeded", sum.Succeeded),
		slog.Int("failed", sum.Failed),
		slog.Int("skipped", sum.Skipped))

	if sum.Succeeded > 0 && u.onDone != nil {
		u.onDone(sum)
	}
	if sum.Status() == BatchFailed {
		return sum, fmt.Errorf("upload: %d of %d: %w", sum.Failed, len(files), apperr.ErrTotalUploadFailure)
	}
	return sum, nil
}

func (u *Uploader) one(ctx context.Context, f File, known []string, seen map[string]string) Result {
	name := path.Base(strings.ReplaceAll(f.Name, "\\", "/"))
	res := Result{Name: name, ContentType: ContentType(name)}
	fail := func(err error) Result {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res
	}
	if name == "" || name == "." || name == "/" || f.Open == nil {
		return fail(fmt.Errorf("invalid file %q: %w", f.Name, apperr.ErrInvalidInput))
	}

	digest, size, err := digestOf(f)
	if err != nil {
		return fail(err)
	}
	res.Checksum = digest
	if first, dup := seen[digest]; dup {
		res.Status = StatusSkipped
		res.Error = "same content as " + first
		return res
	}
	seen[digest] = name

	if photokey.IsKnownUpload(name, known) {
		res.Duplicate = true
		if u.skipDups {
			res.Status = StatusSkipped
			res.Error = "already in the album"
			return res
		}
	}

	slot, err := u.be.RequestUploadSlot(ctx, name, res.ContentType)
	if err != nil {
		return fail(err)
	}
	res.Key = slot.Key

	rc, err := f.Open()
	if err != nil {
		return fail(fmt.Errorf("open %s: %w", name, err))
	}
	defer rc.Close()
	if err := u.be.UploadBytes(ctx, slot, res.ContentType, rc, size); err != nil {
		return fail(err)
	}
	res.Status = StatusUploaded
	u.logger.Debug("upload: file stored", slog.String("name", name), slog.String("key", slot.Key))
	return res
}

func digestOf(f File) (string, int64, error) {
	rc, err := f.Open()
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	digest, n, err := checksum.SumReader(rc)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return digest, n, nil
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// ContentType picks the MIME type from the file extension.
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
