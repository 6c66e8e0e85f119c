package handle

import (
	"context"
	"log"
	"net/http"
	"time"

	"draw-coach/api/internal/tutor"
)

// archiveRun is the session completion hook: it records a finished tutorial
// and never touches live session state.
func (h *Handle) archiveRun(sum tutor.RunSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Runs.Insert(ctx, 0, sum); err != nil {
		log.Printf("archive run %s: %v", sum.SessionID, err)
	}
}

// Recent lists the newest archived tutorials.
func (h *Handle) Recent(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		http.Error(w, "archive is not configured", http.StatusNotImplemented)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestDeadline(r, 10*time.Second))
	defer cancel()

	rows, err := h.Runs.Recent(ctx, 20)
	if err != nil {
		http.Error(w, "archive error: "+err.Error(), http.StatusBadGateway)
		return
	}

	type runView struct {
		SessionID  string    `json:"session_id"`
		CreatedAt  time.Time `json:"created_at"`
		Engine     string    `json:"engine"`
		Model      string    `json:"model"`
		TotalSteps int       `json:"total_steps"`
		Steps      int       `json:"steps"`
		DurationMS int64     `json:"duration_ms"`
	}
	out := make([]runView, 0, len(rows))
	for _, row := range rows {
		out = append(out, runView{
			SessionID:  row.SessionID,
			CreatedAt:  row.CreatedAt,
			Engine:     row.Engine,
			Model:      row.Model,
			TotalSteps: row.TotalSteps,
			Steps:      len(row.Steps),
			DurationMS: row.DurationMS,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
