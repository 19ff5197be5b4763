package internal

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/albumshare/internal/album"
	"github.com/starford/albumshare/internal/models"
	"github.com/starford/albumshare/internal/store"
	"github.com/starford/albumshare/internal/testutil"
	"github.com/starford/albumshare/internal/upload"
)

func waitFor(t *testing.T, timeout time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error(msg)
}

func TestBuildWiresSessionAndUploader(t *testing.T) {
	fake := testutil.NewBackend(t)
	fake.SetPhotos(models.Photo{Key: "2020_June_Beach.jpg", URL: "u1"})

	cfg := validConfig()
	cfg.Backend.BaseURL = fake.URL
	cfg.Store.Driver = store.DriverMemory
	cfg.Album.DefaultTags = []string{"Family"}
	cfg.Album.RefreshDelay = 10 * time.Millisecond
	cfg.Inbox.Enabled = true
	cfg.Inbox.Path = filepath.Join(t.TempDir(), "inbox")

	var mu sync.Mutex
	var events []string
	notify := func(kind, _ string) {
		mu.Lock()
		events = append(events, kind)
		mu.Unlock()
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := build(ctx, cfg, logger, notify, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer svc.Close()

	if svc.inbox == nil {
		t.Fatal("inbox not wired")
	}
	if _, err := os.Stat(cfg.Inbox.Path); err != nil {
		t.Errorf("inbox dir not created: %v", err)
	}

	tags, err := svc.custom.List(ctx)
	if err != nil || len(tags) != 1 || tags[0] != "Family" {
		t.Errorf("custom tags = %v, %v", tags, err)
	}

	svc.loadInitial(ctx)
	if keys := svc.session.Keys(); len(keys) != 1 {
		t.Fatalf("keys = %v", keys)
	}

	// A successful upload schedules one refresh of the album.
	fake.SetPhotos(
		models.Photo{Key: "2020_June_Beach.jpg", URL: "u1"},
		models.Photo{Key: "2021_May_Lake.jpg", URL: "u2"},
	)
	if _, err := svc.uploader.Upload(ctx, []upload.File{upload.FromBytes("2021_May_Lake.jpg", []byte("x"))}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	reloaded := func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == album.EventAlbumReloaded {
				return true
			}
		}
		return false
	}
	waitFor(t, 2*time.Second, reloaded, "album not refreshed after upload")
	if keys := svc.session.Keys(); len(keys) != 2 {
		t.Errorf("keys after refresh = %v", keys)
	}
}

func TestBuildRejectsUnknownStore(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Driver = "etcd"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := build(context.Background(), cfg, logger, nil, nil); err == nil {
		t.Fatal("expected store error")
	}
}

func TestSetupRequiresConfig(t *testing.T) {
	if _, _, err := setup(nil); err == nil {
		t.Fatal("expected config error")
	}
	var buf bytes.Buffer
	_, logger, err := setup([]Option{WithConfig(validConfig()), WithLogOutput(&buf)})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello")
	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"hello"`)) {
		t.Errorf("log output = %q", buf.String())
	}
}
