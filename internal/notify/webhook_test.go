package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestWebhookNotifierPostsEvent(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Event
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s, want POST", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("content type: got %s", got)
		}
		var event Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(server.URL, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	notifier.Notify(context.Background(), Event{
		Kind:      KindCommandStatus,
		VenueID:   "venue-1",
		CommandID: "cmd-1",
		Status:    "completed",
		At:        time.Now().UTC(),
	})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(received))
	}
	if received[0].Kind != KindCommandStatus || received[0].CommandID != "cmd-1" {
		t.Fatalf("event: got %+v", received[0])
	}
}

func TestWebhookNotifierFilter(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(server.URL, nil,
		WithWebhookFilter(func(event Event) bool { return event.Kind == KindBulkProgress }),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	notifier.Notify(context.Background(), Event{Kind: KindCommandStatus})
	notifier.Notify(context.Background(), Event{Kind: KindBulkProgress})

	if hits != 1 {
		t.Fatalf("deliveries: got %d, want 1 after filtering", hits)
	}
}

func TestWebhookNotifierRejectsBadURL(t *testing.T) {
	if _, err := NewWebhookNotifier("ftp://hooks.example.com", nil); !errors.Is(err, ErrInvalidWebhookURL) {
		t.Fatalf("got %v, want ErrInvalidWebhookURL", err)
	}
}

func TestMultiNotifierFansOut(t *testing.T) {
	first := &recordingNotifier{}
	second := &recordingNotifier{}
	multi := NewMultiNotifier(first, nil, second)

	multi.Notify(context.Background(), Event{Kind: KindTerminalStatus})

	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("fan-out: got %d/%d, want 1/1", len(first.events), len(second.events))
	}
}

type recordingNotifier struct {
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, event Event) {
	n.events = append(n.events, event)
}
