package api

import (
	"errors"
	"net/http"

	"github.com/patrickspencer/chatbat/internal/chat"
	"github.com/patrickspencer/chatbat/internal/store"
)

// handleSubmit accepts form-encoded submissions by GET query or POST body.
func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}

	req, err := chat.ParseRequest(r.Form, a.Limits)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.Chat.Handle(r.Context(), req)
	switch {
	case errors.Is(err, chat.ErrInvalidRequest):
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrLockTimeout):
		a.Logger.Warn().Err(err).Msg("submission hit log lock timeout")
		a.writeError(w, http.StatusInternalServerError, "could not acquire message log lock")
		return
	case err != nil:
		a.Logger.Error().Err(err).Msg("submission failed")
		a.writeError(w, http.StatusInternalServerError, "failed to store submission")
		return
	}

	a.writeJSON(w, http.StatusOK, res)
}
