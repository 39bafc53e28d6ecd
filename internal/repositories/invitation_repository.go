package repositories

import (
	"context"
	"time"

	"github.com/glimpse/backend/internal/models"
)

// InvitationRepository defines persistence for group invitations. Every status
// change is a compare-and-swap from pending and returns ErrConflict when the
// invitation already reached a terminal state.
type InvitationRepository interface {
	Create(ctx context.Context, invitation models.Invitation) error
	FindByID(ctx context.Context, id string) (models.Invitation, error)
	ListPendingByEmail(ctx context.Context, email string) ([]models.Invitation, error)
	Decline(ctx context.Context, id string, at time.Time) (models.Invitation, error)
	// Accept atomically marks the invitation accepted and adds userID to the
	// invited group as a member. It returns ErrNotFound when the group is gone.
	Accept(ctx context.Context, id, userID string, at time.Time) (models.Invitation, models.Group, error)
	MarkFailed(ctx context.Context, id, message string, at time.Time) error
}
