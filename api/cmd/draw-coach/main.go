package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"draw-coach/api/internal/config"
	"draw-coach/api/internal/handle"
	"draw-coach/api/internal/store"
	"draw-coach/api/internal/tutor"
	"draw-coach/api/internal/tutor/gemini"
	"draw-coach/api/internal/tutor/openai"
)

func main() {
	cfg := config.Load()

	// Prefer platform PORT env var; fallback to cfg.Port
	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		cfg.Port = p
	}

	engines := tutor.Engines{
		Gemini: gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiImageModel),
	}
	if cfg.OpenAIAPIKey != "" {
		engines.OpenAI = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIImageModel)
	}

	// Archive is optional: no DATABASE_URL, no archive.
	var runs *store.RunRepo
	var db *sql.DB
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("sql.Open: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(1 * time.Hour)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(ctx); err != nil {
			cancel()
			log.Fatalf("db.Ping: %v", err)
		}
		cancel()
		runs = store.NewRunRepo(db)
		log.Printf("run archive enabled")
	}

	h := handle.New(engines, tutor.NewRegistry(), runs)
	h.MaxStepAttempts = cfg.MaxStepAttempts
	h.DefaultTotalSteps = cfg.DefaultTotalSteps
	h.MaxImageDim = cfg.MaxImageDim

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tutorial/start", h.Start)
	mux.HandleFunc("GET /v1/tutorial/{id}", h.Snapshot)
	mux.HandleFunc("GET /v1/tutorial/{id}/events", h.Events)
	mux.HandleFunc("POST /v1/tutorial/{id}/accept", h.Accept)
	mux.HandleFunc("POST /v1/tutorial/{id}/retry", h.Retry)
	mux.HandleFunc("POST /v1/tutorial/{id}/retry-area", h.RetryArea)
	mux.HandleFunc("POST /v1/tutorial/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /v1/tutorial/{id}/reset", h.Reset)
	mux.HandleFunc("GET /v1/tutorials/recent", h.Recent)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := "0.0.0.0:" + cfg.Port
	log.Printf("draw-coach listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}
