package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tpv-fleet/internal/notify"
)

func dialStream(t *testing.T, server *httptest.Server, venueID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/commands/stream"
	if venueID != "" {
		wsURL += "?venue_id=" + venueID
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitForClients(t *testing.T, hub *StreamHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		count := len(hub.clients)
		hub.mu.RUnlock()
		if count == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d stream clients", want)
}

func TestStreamHubBroadcastsToVenueObservers(t *testing.T) {
	hub := NewStreamHub(nil)
	defer hub.Close()
	mux := http.NewServeMux()
	hub.Register(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialStream(t, server, "venue-1")
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.Notify(context.Background(), notify.Event{
		Kind: notify.KindCommandStatus, VenueID: "venue-1", CommandID: "cmd-1", Status: "sent",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event notify.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.CommandID != "cmd-1" || event.VenueID != "venue-1" {
		t.Fatalf("event: got %+v", event)
	}
}

func TestStreamHubFiltersOtherVenues(t *testing.T) {
	hub := NewStreamHub(nil)
	defer hub.Close()
	mux := http.NewServeMux()
	hub.Register(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialStream(t, server, "venue-1")
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.Notify(context.Background(), notify.Event{
		Kind: notify.KindCommandStatus, VenueID: "venue-2", CommandID: "cmd-other",
	})
	hub.Notify(context.Background(), notify.Event{
		Kind: notify.KindCommandStatus, VenueID: "venue-1", CommandID: "cmd-mine",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event notify.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// The venue-2 event must have been filtered out.
	if event.CommandID != "cmd-mine" {
		t.Fatalf("event: got %s, want cmd-mine", event.CommandID)
	}
}
