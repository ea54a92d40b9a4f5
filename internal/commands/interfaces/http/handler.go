package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tpv-fleet/internal/audit"
	"tpv-fleet/internal/auth"
	commandsapp "tpv-fleet/internal/commands/application"
	commands "tpv-fleet/internal/commands/domain"
	terminals "tpv-fleet/internal/terminals/domain"
)

// Handler provides the command HTTP endpoints.
type Handler struct {
	dispatch     *commandsapp.DispatchService
	queue        *commandsapp.QueueService
	venueChecker auth.VenueTenantChecker
	auditLogger  audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(dispatch *commandsapp.DispatchService, queue *commandsapp.QueueService, venueChecker auth.VenueTenantChecker, auditLogger audit.Logger) (*Handler, error) {
	if dispatch == nil {
		return nil, errors.New("commands handler: nil dispatch service")
	}
	if queue == nil {
		return nil, errors.New("commands handler: nil queue service")
	}
	return &Handler{
		dispatch:     dispatch,
		queue:        queue,
		venueChecker: venueChecker,
		auditLogger:  auditLogger,
	}, nil
}

// Register mounts the command routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/commands", h.handleCollection)
	mux.HandleFunc("/api/v1/commands/bulk", h.handleBulk)
	mux.HandleFunc("/api/v1/commands/", h.handleItem)
	mux.HandleFunc("/api/v1/bulk-operations/", h.handleBulkItem)
	h.registerExports(mux)
}

func (h *Handler) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleQueue(w, r)
	case http.MethodGet:
		h.handleListByTerminal(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var input commandsapp.QueueInput
	if err := json.Unmarshal(body, &input); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if input.RequestedBy == "" {
		input.RequestedBy = auth.SubjectFromContext(r.Context())
	}
	if err := h.ensureVenueTenant(r, input.VenueID); err != nil {
		respondTenantError(w, err)
		return
	}

	result, err := h.dispatch.ExecuteCommand(r.Context(), input)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)

	h.logAudit(r, "command.queue", "command", result.CommandID, input.VenueID, map[string]any{
		"terminal_id":  input.TerminalID,
		"command_type": string(input.Type),
		"status":       result.Status,
	})
}

func (h *Handler) handleListByTerminal(w http.ResponseWriter, r *http.Request) {
	terminalID := r.URL.Query().Get("terminal_id")
	if terminalID == "" {
		http.Error(w, "terminal_id required", http.StatusBadRequest)
		return
	}
	backlog, terminal, err := h.dispatch.TerminalCommands(r.Context(), terminalID)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.ensureVenueTenant(r, terminal.VenueID); err != nil {
		respondTenantError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"terminal_id": terminal.ID,
		"venue_id":    terminal.VenueID,
		"commands":    emptyIfNil(backlog),
	})
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var input commandsapp.BulkInput
	if err := json.Unmarshal(body, &input); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if input.RequestedBy == "" {
		input.RequestedBy = auth.SubjectFromContext(r.Context())
	}
	if err := h.ensureVenueTenant(r, input.VenueID); err != nil {
		respondTenantError(w, err)
		return
	}

	result, err := h.dispatch.ExecuteBulk(r.Context(), input)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)

	h.logAudit(r, "command.bulk", "bulk_operation", result.BulkOperationID, input.VenueID, map[string]any{
		"command_type": string(input.Type),
		"total":        result.Total,
		"failed":       result.Failed,
	})
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/commands/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetCommand(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "cancel" && r.Method == http.MethodPost:
		h.handleCancel(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
		h.handleCommandHistory(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleGetCommand(w http.ResponseWriter, r *http.Request, id string) {
	cmd, err := h.queue.GetCommand(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.ensureVenueTenant(r, cmd.VenueID); err != nil {
		respondTenantError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cmd)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	cmd, err := h.queue.GetCommand(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.ensureVenueTenant(r, cmd.VenueID); err != nil {
		respondTenantError(w, err)
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	defer r.Body.Close()

	cancelled, err := h.dispatch.Cancel(r.Context(), id, auth.SubjectFromContext(r.Context()), body.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cancelled)

	h.logAudit(r, "command.cancel", "command", cancelled.ID, cancelled.VenueID, map[string]any{
		"terminal_id":  cancelled.TerminalID,
		"command_type": string(cancelled.Type),
		"reason":       body.Reason,
	})
}

func (h *Handler) handleCommandHistory(w http.ResponseWriter, r *http.Request, id string) {
	cmd, err := h.queue.GetCommand(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.ensureVenueTenant(r, cmd.VenueID); err != nil {
		respondTenantError(w, err)
		return
	}
	entries, err := h.queue.CommandHistory(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, emptyIfNilHistory(entries))
}

func (h *Handler) handleBulkItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/bulk-operations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 2 && parts[1] == "report.pdf" {
		h.handleBulkReport(w, r, parts[0])
		return
	}
	if len(parts) != 1 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	op, err := h.dispatch.GetBulkOperation(r.Context(), parts[0])
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.ensureVenueTenant(r, op.VenueID); err != nil {
		respondTenantError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"operation":         op,
		"pending_terminals": op.PendingTerminals(),
	})
}

func (h *Handler) ensureVenueTenant(r *http.Request, venueID string) error {
	tenantID := auth.TenantIDFromContext(r.Context())
	if h.venueChecker == nil || tenantID == "" || venueID == "" {
		return nil
	}
	return h.venueChecker.EnsureVenueTenant(r.Context(), tenantID, venueID)
}

func (h *Handler) logAudit(r *http.Request, action, resourceType, resourceID, venueID string, meta map[string]any) {
	tenantID := auth.TenantIDFromContext(r.Context())
	if h.auditLogger == nil || tenantID == "" {
		return
	}
	metadata, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     tenantID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		VenueID:      venueID,
		Metadata:     metadata,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, commands.ErrValidation), errors.Is(err, commands.ErrUnknownType):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, commands.ErrNotFound), errors.Is(err, terminals.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, commands.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func respondTenantError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, auth.ErrTenantMismatch) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if errors.Is(err, auth.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "tenant check failed", http.StatusInternalServerError)
}

func emptyIfNil(list []commands.Command) []commands.Command {
	if list == nil {
		return []commands.Command{}
	}
	return list
}

func emptyIfNilHistory(list []commands.HistoryEntry) []commands.HistoryEntry {
	if list == nil {
		return []commands.HistoryEntry{}
	}
	return list
}
