package http

import (
	"fmt"
	"net/http"
	"time"

	"tpv-fleet/internal/commands/interfaces"
)

// registerExports mounts the export routes. Bulk report rendering hangs off
// the bulk item route in handleBulkItem.
func (h *Handler) registerExports(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/history/export.xlsx", h.handleHistoryExport)
}

func (h *Handler) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	venueID := r.URL.Query().Get("venue_id")
	fromValue := r.URL.Query().Get("from")
	toValue := r.URL.Query().Get("to")
	if venueID == "" || fromValue == "" || toValue == "" {
		http.Error(w, "venue_id/from/to required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, fromValue)
	if err != nil {
		http.Error(w, "from must be RFC3339", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, toValue)
	if err != nil {
		http.Error(w, "to must be RFC3339", http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	if err := h.ensureVenueTenant(r, venueID); err != nil {
		respondTenantError(w, err)
		return
	}

	entries, err := h.queue.VenueHistory(r.Context(), venueID, from, to)
	if err != nil {
		respondError(w, err)
		return
	}
	data, err := interfaces.BuildHistoryXLSX(venueID, from, to, entries)
	if err != nil {
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=command-history-%s.xlsx", venueID))
	_, _ = w.Write(data)

	h.logAudit(r, "history.export", "venue", venueID, venueID, map[string]any{
		"from":    from.Format(time.RFC3339),
		"to":      to.Format(time.RFC3339),
		"entries": len(entries),
	})
}

func (h *Handler) handleBulkReport(w http.ResponseWriter, r *http.Request, bulkID string) {
	op, err := h.dispatch.GetBulkOperation(r.Context(), bulkID)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.ensureVenueTenant(r, op.VenueID); err != nil {
		respondTenantError(w, err)
		return
	}
	siblings, err := h.dispatch.BulkCommands(r.Context(), bulkID)
	if err != nil {
		respondError(w, err)
		return
	}
	data, err := interfaces.BuildBulkReportPDF(op, siblings)
	if err != nil {
		http.Error(w, "report failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=bulk-%s.pdf", op.ID))
	_, _ = w.Write(data)
}
