package api

import (
	"net/http"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := a.Log.ReadAll(r.Context()); err != nil {
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if a.GetConfig == nil {
		a.writeError(w, http.StatusServiceUnavailable, "config provider unavailable")
		return
	}

	cfg := a.GetConfig()
	if cfg == nil {
		a.writeError(w, http.StatusServiceUnavailable, "config unavailable")
		return
	}

	a.writeJSON(w, http.StatusOK, cfg)
}
