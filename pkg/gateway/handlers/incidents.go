package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/frontdesk-ai/frontdesk/pkg/core"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/incident"
)

const defaultIncidentLimit = 50

// IncidentsHandler serves recent incident rows for operator review.
type IncidentsHandler struct {
	Log *incident.Log
}

type incidentJSON struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"ts"`
	SessionID     string         `json:"session_id,omitempty"`
	Kind          string         `json:"kind"`
	Operation     string         `json:"operation,omitempty"`
	Severity      string         `json:"severity,omitempty"`
	Verdict       string         `json:"verdict"`
	Reasoning     string         `json:"reasoning,omitempty"`
	OriginalArgs  map[string]any `json:"original_args,omitempty"`
	CorrectedArgs map[string]any `json:"corrected_args,omitempty"`
}

func (h IncidentsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, r, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed"}, http.StatusMethodNotAllowed)
		return
	}

	limit := defaultIncidentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErrorJSON(w, r, &core.Error{Type: core.ErrInvalidRequest, Message: "limit must be a positive integer", Param: "limit"}, http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := h.Log.List(r.Context(), limit)
	if err != nil {
		writeErrorJSON(w, r, &core.Error{Type: core.ErrAPI, Message: "failed to read incidents"}, http.StatusInternalServerError)
		return
	}

	out := make([]incidentJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, incidentJSON{
			ID:            row.ID,
			Timestamp:     row.Timestamp,
			SessionID:     row.SessionID,
			Kind:          string(row.Kind),
			Operation:     row.Operation,
			Severity:      string(row.Severity),
			Verdict:       row.Verdict,
			Reasoning:     row.Reasoning,
			OriginalArgs:  row.OriginalArgs,
			CorrectedArgs: row.CorrectedArgs,
		})
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{"incidents": out})
}
