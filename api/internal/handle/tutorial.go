package handle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"draw-coach/api/internal/imaging"
	"draw-coach/api/internal/tutor"
	"draw-coach/api/internal/util"
)

const maxUploadBytes = 20 << 20

// Start creates a session from an uploaded reference image and kicks off
// step 1. The response carries only the session id; progress is observed
// on the events stream.
func (h *Handle) Start(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "bad multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		http.Error(w, "read upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) > maxUploadBytes {
		http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
		return
	}

	totalSteps := h.DefaultTotalSteps
	if ts := strings.TrimSpace(r.FormValue("total_steps")); ts != "" {
		v, err := strconv.Atoi(ts)
		if err != nil || v < 1 || v > 20 {
			http.Error(w, "total_steps must be 1..20", http.StatusBadRequest)
			return
		}
		totalSteps = v
	}

	ref, err := imaging.Normalize(data, h.MaxImageDim)
	if err != nil {
		if errors.Is(err, imaging.ErrDecode) {
			http.Error(w, "uploaded file is not a valid image", http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, "normalize: "+err.Error(), http.StatusInternalServerError)
		return
	}

	id := util.NewID()
	eng, err := h.Engines.ByName(r.FormValue("engine"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s := tutor.NewSession(id, eng, h.MaxStepAttempts)
	if h.Runs != nil {
		s.SetOnComplete(h.archiveRun)
	}
	h.Sessions.Add(s)

	if err := s.Start(ref, totalSteps); err != nil {
		h.Sessions.Remove(id)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id":  id,
		"total_steps": totalSteps,
		"engine":      eng.Name(),
	})
}

// Snapshot returns the current session state.
func (h *Handle) Snapshot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// Events streams session snapshots as server-sent events until the client
// disconnects.
func (h *Handle) Events(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	snaps, unsubscribe := s.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				log.Printf("events: marshal snapshot: %v", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			fl.Flush()
		}
	}
}

// Accept, Retry, RetryArea, Cancel and Reset are fire-and-observe: a 202
// means the command was taken, not that the step finished.

func (h *Handle) Accept(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Accept(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type retryReq struct {
	Feedback string        `json:"feedback"`
	Region   *tutor.Region `json:"region,omitempty"`
}

func (h *Handle) Retry(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req retryReq
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := s.Retry(req.Feedback); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

func (h *Handle) RetryArea(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req retryReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Region == nil {
		http.Error(w, "region is required", http.StatusBadRequest)
		return
	}
	if !validRegion(*req.Region) {
		http.Error(w, "region coordinates must be percentages within 0..100", http.StatusBadRequest)
		return
	}
	if err := s.RetryArea(*req.Region, req.Feedback); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

func validRegion(r tutor.Region) bool {
	if r.Width <= 0 || r.Height <= 0 {
		return false
	}
	if r.X < 0 || r.Y < 0 || r.X > 100 || r.Y > 100 {
		return false
	}
	return r.X+r.Width <= 100 && r.Y+r.Height <= 100
}

func (h *Handle) Cancel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelled"})
}

func (h *Handle) Reset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Reset()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reset"})
}
