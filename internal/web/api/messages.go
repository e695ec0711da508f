package api

import (
	"net/http"

	"github.com/patrickspencer/chatbat/internal/store"
)

// handleMessages returns the current log as a JSON array.
func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap, err := a.Log.ReadAll(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("read message log")
		a.writeError(w, http.StatusInternalServerError, "failed to read messages")
		return
	}
	messages := snap.Messages
	if messages == nil {
		messages = []store.Message{}
	}
	if snap.Version != "" {
		w.Header().Set("ETag", `"`+snap.Version+`"`)
	}
	a.writeJSON(w, http.StatusOK, messages)
}
