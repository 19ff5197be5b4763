package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "photos.appended", Data: map[string]string{"key": "a.jpg"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: photos.appended") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"key":"a.jpg"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishAlbumEvent_ViewThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event should trigger view.updated.
	b.PublishAlbumEvent("favorite.changed", "a.jpg")
	// Second event immediately should NOT trigger another view.updated.
	b.PublishAlbumEvent("tag.changed", "b.jpg")

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	viewCount := 0
	albumCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, ViewUpdated) {
				viewCount++
			} else {
				albumCount++
			}
		default:
			break loop
		}
	}

	if albumCount != 2 {
		t.Errorf("album events = %d, want 2", albumCount)
	}
	if viewCount != 1 {
		t.Errorf("view events = %d, want 1 (throttled)", viewCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishAlbumEvent("album.reloaded", "")
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: album.reloaded") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.PublishAlbumEvent("album.reloaded", "")
}

func TestFrameCarriesID(t *testing.T) {
	raw, err := frame(Event{Type: "favorite.changed", Data: map[string]string{"key": "k"}})
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	lines := strings.Split(string(raw), "\n")
	if !strings.HasPrefix(lines[0], "id: ") || len(lines[0]) != len("id: ")+36 {
		t.Errorf("first line = %q, want uuid id", lines[0])
	}
	if lines[1] != "event: favorite.changed" {
		t.Errorf("event line = %q", lines[1])
	}
}

func TestPublishAlbumEventIgnoresBlankKind(t *testing.T) {
	b := NewBroker(time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishAlbumEvent("  ", "a.jpg")
	time.Sleep(30 * time.Millisecond)
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %q", msg)
	default:
	}
}

func TestPublishAlbumEvent_TrailingViewUpdate(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishAlbumEvent("favorite.changed", "a.jpg")
	b.PublishAlbumEvent("tag.changed", "b.jpg")
	b.PublishAlbumEvent("tag.changed", "c.jpg")

	views := 0
	deadline := time.After(400 * time.Millisecond)
	for views < 2 {
		select {
		case msg := <-ch:
			if strings.Contains(string(msg), "event: "+ViewUpdated) {
				views++
			}
		case <-deadline:
			t.Fatalf("view events = %d, want 2 (leading + trailing)", views)
		}
	}

	select {
	case msg := <-ch:
		if strings.Contains(string(msg), "event: "+ViewUpdated) {
			t.Errorf("unexpected third view event")
		}
	case <-time.After(200 * time.Millisecond):
	}
}
