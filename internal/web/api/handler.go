package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/patrickspencer/chatbat/internal/chat"
	"github.com/patrickspencer/chatbat/internal/config"
	"github.com/patrickspencer/chatbat/internal/realtime"
	"github.com/patrickspencer/chatbat/internal/store"
	"github.com/patrickspencer/chatbat/internal/stream"
)

// Submitter handles parsed chat requests.
type Submitter interface {
	Handle(ctx context.Context, req chat.Request) (*chat.Result, error)
}

// API holds dependencies for all API handlers.
type API struct {
	Chat      Submitter
	Log       store.MessageLog
	Journal   realtime.Journal
	Limits    chat.Limits
	Stream    stream.Config
	GetConfig func() *config.Config
	Logger    zerolog.Logger
}

// RegisterRoutes registers all API routes on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.HandleFunc("/submit", a.handleSubmit)
		r.HandleFunc("/events", a.handleEvents)
		r.HandleFunc("/messages", a.handleMessages)
		r.HandleFunc("/config", a.handleConfig)
		r.HandleFunc("/health", a.handleHealth)
	})
}

// writeJSON writes a JSON response with the given status code.
func (a *API) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.Logger.Error().Err(err).Msg("failed to write JSON response")
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}
