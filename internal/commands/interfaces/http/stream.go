package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tpv-fleet/internal/auth"
	"tpv-fleet/internal/notify"
	"tpv-fleet/internal/observability/metrics"
)

const (
	streamSendBuffer = 32
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

// streamClient is one connected observer. A full send buffer drops the
// client rather than blocking the broadcaster.
type streamClient struct {
	conn    *websocket.Conn
	send    chan []byte
	venueID string
}

// StreamHub pushes command lifecycle events to connected websocket
// observers. It implements notify.Notifier.
type StreamHub struct {
	mu       sync.RWMutex
	clients  map[*streamClient]struct{}
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewStreamHub constructs a hub.
func NewStreamHub(logger *log.Logger) *StreamHub {
	return &StreamHub{
		clients: make(map[*streamClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Register mounts the stream route on the mux.
func (h *StreamHub) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/commands/stream", h.handleStream)
}

func (h *StreamHub) handleStream(w http.ResponseWriter, r *http.Request) {
	venueID := r.URL.Query().Get("venue_id")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("stream upgrade failed: subject=%s: %v", auth.SubjectFromContext(r.Context()), err)
		}
		return
	}
	client := &streamClient{
		conn:    conn,
		send:    make(chan []byte, streamSendBuffer),
		venueID: venueID,
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	h.readPump(client)
}

// Notify broadcasts an event to every observer watching its venue.
func (h *StreamHub) Notify(ctx context.Context, event notify.Event) {
	_ = ctx
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.venueID != "" && client.venueID != event.VenueID {
			continue
		}
		select {
		case client.send <- payload:
			metrics.IncObserverPush("websocket", "ok")
		default:
			// Slow consumer. Close its channel from writePump via drop.
			metrics.IncObserverPush("websocket", "dropped")
		}
	}
}

func (h *StreamHub) writePump(client *streamClient) {
	ping := time.NewTicker(streamPingPeriod)
	defer func() {
		ping.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames until the connection dies, then removes
// the client. Observers are read-only; inbound payloads are discarded.
func (h *StreamHub) readPump(client *streamClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		close(client.send)
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if h.logger != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Printf("stream read error: %v", err)
			}
			return
		}
	}
}

// Close disconnects every observer.
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.conn.Close()
	}
}
