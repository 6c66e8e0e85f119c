package handle

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"draw-coach/api/internal/store"
	"draw-coach/api/internal/tutor"
)

type Handle struct {
	Engines  tutor.Engines
	Sessions *tutor.Registry
	Runs     *store.RunRepo // nil disables the archive

	MaxStepAttempts   int
	DefaultTotalSteps int
	MaxImageDim       int
}

func New(engines tutor.Engines, sessions *tutor.Registry, runs *store.RunRepo) *Handle {
	return &Handle{
		Engines:  engines,
		Sessions: sessions,
		Runs:     runs,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// requestDeadline honors X-Request-Timeout / ?timeoutSec, else the default.
func requestDeadline(r *http.Request, def time.Duration) time.Duration {
	if ts := r.Header.Get("X-Request-Timeout"); ts != "" {
		if v, _ := strconv.Atoi(ts); v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	if ts := r.URL.Query().Get("timeoutSec"); ts != "" {
		if v, _ := strconv.Atoi(ts); v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return def
}

func (h *Handle) session(w http.ResponseWriter, r *http.Request) (*tutor.Session, bool) {
	id := r.PathValue("id")
	s, ok := h.Sessions.Get(id)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return nil, false
	}
	return s, true
}
