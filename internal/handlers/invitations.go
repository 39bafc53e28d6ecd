package handlers

import (
	"net/http"

	"github.com/glimpse/backend/internal/logging"
	"github.com/glimpse/backend/internal/middleware"
	"github.com/glimpse/backend/internal/models"
)

// InvitationHandler lists and answers the signed-in user's invitations.
type InvitationHandler struct {
	Sessions SessionService
}

// List handles GET /api/v1/invitations.
func (h InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()
	snapshot, err := h.Sessions.RefreshInvitations(ctx, middleware.UserID(ctx))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string][]models.PendingInvitation{"invitations": snapshot.Invitations.Items})
}

// Respond handles POST /api/v1/invitations/respond.
func (h InvitationHandler) Respond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()

	var req respondRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Accept == nil {
		logging.FromContext(ctx).Warn("invalid respond payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invitationId and accept are required"})
		return
	}

	resp, err := h.Sessions.RespondToInvitation(ctx, middleware.UserID(ctx), req.InvitationID, *req.Accept)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, respondResponse{Invitation: resp.Invitation, Group: resp.Group})
}

type respondRequest struct {
	InvitationID string `json:"invitationId"`
	Accept       *bool  `json:"accept"`
}

type respondResponse struct {
	Invitation models.Invitation `json:"invitation"`
	Group      *models.Group     `json:"group,omitempty"`
}
