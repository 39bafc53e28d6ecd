package handlers

import (
	"net/http"

	"github.com/glimpse/backend/internal/groups"
	"github.com/glimpse/backend/internal/logging"
	"github.com/glimpse/backend/internal/middleware"
	"github.com/glimpse/backend/internal/models"
)

// GroupHandler lists, creates and invites into groups.
type GroupHandler struct {
	Groups   GroupService
	Sessions SessionService
}

// Collection handles GET and POST /api/v1/groups.
func (h GroupHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h GroupHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshot, err := h.Sessions.RefreshGroups(ctx, middleware.UserID(ctx))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string][]models.Group{"groups": snapshot.Groups.Items})
}

func (h GroupHandler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid group payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	created, err := h.Groups.Create(ctx, groups.CreateParams{
		CreatorID:    userID,
		Name:         req.Name,
		Description:  req.Description,
		CoverImage:   req.CoverImage,
		InviteEmails: req.InviteEmails,
	})
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if _, err := h.Sessions.RefreshGroups(ctx, userID); err != nil {
		logging.FromContext(ctx).Warn("refresh groups after create", "error", err)
	}
	respondJSON(ctx, w, http.StatusCreated, createGroupResponse{Group: created.Group, Invitations: created.Invitations})
}

// Invite handles POST /api/v1/groups/invite.
func (h GroupHandler) Invite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()

	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid invite payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	invitation, err := h.Groups.Invite(ctx, req.GroupID, middleware.UserID(ctx), req.Email)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, map[string]models.Invitation{"invitation": invitation})
}

type createGroupRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	CoverImage   string   `json:"coverImage"`
	InviteEmails []string `json:"inviteEmails"`
}

type createGroupResponse struct {
	Group       models.Group        `json:"group"`
	Invitations []models.Invitation `json:"invitations"`
}

type inviteRequest struct {
	GroupID string `json:"groupId"`
	Email   string `json:"email"`
}
