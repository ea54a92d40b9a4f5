package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"tpv-fleet/internal/auth"
	terminalsapp "tpv-fleet/internal/terminals/application"
	terminals "tpv-fleet/internal/terminals/domain"
)

// Handler provides the terminal HTTP endpoints.
type Handler struct {
	heartbeats   *terminalsapp.HeartbeatService
	directory    terminalsapp.Directory
	venueChecker auth.VenueTenantChecker
	threshold    time.Duration
}

// NewHandler constructs a handler.
func NewHandler(heartbeats *terminalsapp.HeartbeatService, directory terminalsapp.Directory, venueChecker auth.VenueTenantChecker, threshold time.Duration) (*Handler, error) {
	if heartbeats == nil {
		return nil, errors.New("terminals handler: nil heartbeat service")
	}
	if directory == nil {
		return nil, errors.New("terminals handler: nil directory")
	}
	return &Handler{
		heartbeats:   heartbeats,
		directory:    directory,
		venueChecker: venueChecker,
		threshold:    threshold,
	}, nil
}

// Register mounts the terminal routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/ingest/terminals/heartbeat", h.handleHeartbeat)
	mux.HandleFunc("/api/v1/terminals/", h.handleGet)
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		TerminalID string    `json:"terminal_id"`
		At         time.Time `json:"at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if body.TerminalID == "" {
		http.Error(w, "terminal_id required", http.StatusBadRequest)
		return
	}

	result, err := h.heartbeats.Record(r.Context(), body.TerminalID, body.At)
	if err != nil {
		if errors.Is(err, terminals.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"terminal_id": result.Terminal.ID,
		"came_online": result.CameOnline,
		"delivered":   result.Delivered,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/terminals/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	terminal, err := h.directory.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if terminal == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if tenantID := auth.TenantIDFromContext(r.Context()); tenantID != "" && h.venueChecker != nil {
		if err := h.venueChecker.EnsureVenueTenant(r.Context(), tenantID, terminal.VenueID); err != nil {
			if errors.Is(err, auth.ErrTenantMismatch) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			http.Error(w, "tenant check failed", http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"terminal": terminal,
		"online":   terminal.Online(time.Now().UTC(), h.threshold),
	})
}
