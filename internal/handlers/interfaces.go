package handlers

import (
	"context"

	"github.com/glimpse/backend/internal/groups"
	"github.com/glimpse/backend/internal/invitations"
	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/state"
	"github.com/glimpse/backend/internal/uploads"
)

// AuthService captures the identity operations behind the auth endpoints.
type AuthService interface {
	SignUp(ctx context.Context, email, password, displayName string) (models.User, models.SessionTokens, error)
	SignIn(ctx context.Context, email, password string) (models.User, models.SessionTokens, error)
	SignOut(ctx context.Context, refreshToken string) error
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
}

// SessionService exposes the per-user client state.
type SessionService interface {
	Snapshot(ctx context.Context, userID string) (state.State, error)
	RefreshGroups(ctx context.Context, userID string) (state.State, error)
	RefreshFeed(ctx context.Context, userID string, limit int) (state.State, error)
	RefreshInvitations(ctx context.Context, userID string) (state.State, error)
	RespondToInvitation(ctx context.Context, userID, invitationID string, accept bool) (invitations.Response, error)
}

// GroupService creates groups and sends invitations.
type GroupService interface {
	Create(ctx context.Context, params groups.CreateParams) (groups.Created, error)
	Invite(ctx context.Context, groupID, inviterID, email string) (models.Invitation, error)
}

// UploadService queues uploads and tracks their tasks.
type UploadService interface {
	Submit(ctx context.Context, req uploads.Request) (*uploads.Task, error)
	Get(id string) (*uploads.Task, bool)
}

// URLResolver turns stored media references into fetchable URLs.
type URLResolver interface {
	URL(ctx context.Context, ref string) (string, error)
}
