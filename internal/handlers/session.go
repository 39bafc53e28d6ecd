package handlers

import (
	"net/http"

	"github.com/glimpse/backend/internal/middleware"
)

// SessionHandler exposes the signed-in user's client state.
type SessionHandler struct {
	Sessions SessionService
}

// Snapshot handles GET /api/v1/session.
func (h SessionHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()
	snapshot, err := h.Sessions.Snapshot(ctx, middleware.UserID(ctx))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, snapshot)
}
