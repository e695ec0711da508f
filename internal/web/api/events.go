package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/patrickspencer/chatbat/internal/chat"
	"github.com/patrickspencer/chatbat/internal/stream"
)

// sseSink writes dispatcher events as named SSE frames.
type sseSink struct {
	w http.ResponseWriter
	f http.Flusher
}

// Send writes evt with its type as the event name and flushes.
func (s sseSink) Send(evt stream.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", evt.Type, payload); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// Keepalive writes a comment frame.
func (s sseSink) Keepalive() error {
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	tabID := r.URL.Query().Get("tabId")
	if tabID == "" {
		tabID = chat.AnonymousTabID()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Reconnect hint for browsers.
	_, _ = fmt.Fprint(w, "retry: 2000\n\n")
	flusher.Flush()

	session := stream.NewSession(tabID, a.Log, a.Journal, a.Stream, a.Logger)
	if err := session.Run(r.Context(), sseSink{w: w, f: flusher}); err != nil {
		a.Logger.Debug().Err(err).Str("tab_id", tabID).Msg("stream write failed")
	}
}
