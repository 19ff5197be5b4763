// Package inbox turns a local drop folder into an upload queue: images that
// appear in it are uploaded in debounced batches and then archived.
package inbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/albumshare/internal/apperr"
	"github.com/starford/albumshare/internal/storage"
	"github.com/starford/albumshare/internal/upload"
)

// EventCallback is called for every processed file.
// kind is one of "uploaded", "skipped", "failed".
type EventCallback func(kind string, path string)

// Uploader sends one batch.
type Uploader interface {
	Upload(ctx context.Context, files []upload.File) (upload.Summary, error)
}

// Inbox watches one drop folder.
type Inbox struct {
	store    *storage.FS
	up       Uploader
	debounce time.Duration
	logger   *slog.Logger
	cb       EventCallback

	mu sync.Mutex // one batch at a time
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) {
		if d > 0 {
			in.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Inbox) { in.logger = l }
}

// WithCallback sets the per-file callback.
func WithCallback(cb EventCallback) Option {
	return func(in *Inbox) { in.cb = cb }
}

// New creates an Inbox over store.
func New(store *storage.FS, up Uploader, opts ...Option) *Inbox {
	in := &Inbox{
		store:    store,
		up:       up,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Scan uploads every image currently in the drop folder.
func (in *Inbox) Scan(ctx context.Context) (upload.Summary, error) {
	files, err := in.store.List("")
	if err != nil {
		return upload.Summary{}, err
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return in.process(ctx, paths)
}

// process uploads paths as one batch, moving uploaded files to uploaded/ and
// skipped ones to skipped/. Failed files stay put for the next pass.
func (in *Inbox) process(ctx context.Context, paths []string) (upload.Summary, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(paths) == 0 {
		return upload.Summary{}, nil
	}
	sort.Strings(paths)
	files := make([]upload.File, len(paths))
	for i, p := range paths {
		files[i] = upload.File{Name: path.Base(p), Open: in.opener(p)}
	}

	sum, err := in.up.Upload(ctx, files)
	if err != nil && !errors.Is(err, apperr.ErrTotalUploadFailure) {
		return sum, err
	}
	for i, res := range sum.Results {
		p := paths[i]
		switch res.Status {
		case upload.StatusUploaded:
			in.archive(p, storage.UploadedDir)
		case upload.StatusSkipped:
			in.archive(p, storage.SkippedDir)
		}
		if in.cb != nil {
			in.cb(res.Status, p)
		}
	}
	return sum, err
}

func (in *Inbox) opener(rel string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		data, err := in.store.Read(rel)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

func (in *Inbox) archive(rel, dir string) {
	if err := in.store.Move(rel, path.Join(dir, rel)); err != nil {
		in.logger.Warn("inbox: archive failed", slog.String("path", rel), slog.String("error", err.Error()))
	}
}

// Watch starts an fsnotify watcher on the drop folder and uploads new or
// changed images once writes have been quiet for the debounce period. It
// returns when ctx is cancelled.
func (in *Inbox) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := in.store.Root()
	if err := in.addDirsRecursive(w, root); err != nil {
		return err
	}
	in.logger.Info("inbox: watching", slog.String("root", root))

	pending := make(map[string]struct{})
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	scheduleFlush := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(in.debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(in.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			in.logger.Info("inbox: stopped")
			return nil

		case <-flushCh:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(p))); err == nil {
					paths = append(paths, p)
				}
			}
			clear(pending)
			if _, err := in.process(ctx, paths); err != nil && !errors.Is(err, apperr.ErrTotalUploadFailure) {
				in.logger.Warn("inbox: batch failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			rel, relErr := in.store.Rel(ev.Name)
			if relErr != nil || archived(rel) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := in.addDirsRecursive(w, ev.Name); addErr != nil {
						in.logger.Warn("inbox: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					}
					// Pick up images that landed before the watch was added.
					_ = filepath.WalkDir(ev.Name, func(p string, d fs.DirEntry, err error) error {
						if err == nil && !d.IsDir() && storage.IsImage(p) {
							if r, err := in.store.Rel(p); err == nil {
								pending[filepath.ToSlash(r)] = struct{}{}
							}
						}
						return nil
					})
					scheduleFlush()
					continue
				}
			}

			if !storage.IsImage(rel) || strings.HasPrefix(filepath.Base(rel), ".") {
				continue
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			scheduleFlush()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func archived(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, dir := range []string{storage.UploadedDir, storage.SkippedDir} {
		if rel == dir || strings.HasPrefix(rel, dir+"/") {
			return true
		}
	}
	return false
}

// addDirsRecursive adds dir and its subdirectories, except the archives.
func (in *Inbox) addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, err := in.store.Rel(p); err == nil && archived(rel) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
