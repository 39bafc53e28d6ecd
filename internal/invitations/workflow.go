// Package invitations lists and resolves pending group invitations.
package invitations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glimpse/backend/internal/apperr"
	"github.com/glimpse/backend/internal/cache"
	"github.com/glimpse/backend/internal/logging"
	"github.com/glimpse/backend/internal/metrics"
	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/repositories"
)

// Placeholder names shown when enrichment cannot resolve a name.
const (
	UnknownGroupName = "Unknown group"
	UnknownInviter   = "Someone"
)

// GroupFinder loads group records for enrichment.
type GroupFinder interface {
	FindByID(ctx context.Context, id string) (models.Group, error)
}

// UserFinder loads user records for enrichment.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (models.User, error)
}

// Response is the outcome of answering an invitation. Group is set on accept.
type Response struct {
	Invitation models.Invitation
	Group      *models.Group
}

// Workflow implements listing and answering invitations.
type Workflow struct {
	invitations repositories.InvitationRepository
	groupNames  *cache.ReadThrough
	userNames   *cache.ReadThrough
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewWorkflow constructs a Workflow. names caches resolved display names and
// may be nil; m may be nil.
func NewWorkflow(invitations repositories.InvitationRepository, groups GroupFinder, users UserFinder, names cache.Store, m *metrics.Metrics) *Workflow {
	return &Workflow{
		invitations: invitations,
		groupNames: cache.NewReadThrough(names, "group-name:", func(ctx context.Context, id string) (string, error) {
			group, err := groups.FindByID(ctx, id)
			if err != nil {
				return "", err
			}
			return group.Name, nil
		}),
		userNames: cache.NewReadThrough(names, "user-name:", func(ctx context.Context, id string) (string, error) {
			user, err := users.FindByID(ctx, id)
			if err != nil {
				return "", err
			}
			return user.Name(), nil
		}),
		metrics: m,
		now:     time.Now,
	}
}

// Get loads a single invitation.
func (w *Workflow) Get(ctx context.Context, invitationID string) (models.Invitation, error) {
	const op = "invitations.get"
	if strings.TrimSpace(invitationID) == "" {
		return models.Invitation{}, apperr.Validation(op, "invitation id is required")
	}
	invitation, err := w.invitations.FindByID(ctx, invitationID)
	if err != nil {
		return models.Invitation{}, apperr.FromStore(op, err)
	}
	return invitation, nil
}

// ListPending returns the pending invitations addressed to email, each
// enriched with its group and inviter names. A name that cannot be resolved
// is replaced by a placeholder instead of failing the listing.
func (w *Workflow) ListPending(ctx context.Context, email string) ([]models.PendingInvitation, error) {
	const op = "invitations.list_pending"
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, apperr.Validation(op, "email is required")
	}

	invitations, err := w.invitations.ListPendingByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Remote(op, err)
	}

	logger := logging.FromContext(ctx)
	pending := make([]models.PendingInvitation, 0, len(invitations))
	for _, invitation := range invitations {
		item := models.PendingInvitation{Invitation: invitation}

		name, err := w.groupNames.Get(ctx, invitation.GroupID)
		if err != nil || strings.TrimSpace(name) == "" {
			logger.Warn("group name unavailable", slog.String("invitation_id", invitation.ID), slog.String("group_id", invitation.GroupID), slog.Any("error", err))
			w.metrics.EnrichmentFallback(metrics.FallbackGroup)
			name = UnknownGroupName
		}
		item.GroupName = name

		inviter, err := w.userNames.Get(ctx, invitation.InviterID)
		if err != nil || strings.TrimSpace(inviter) == "" {
			logger.Warn("inviter name unavailable", slog.String("invitation_id", invitation.ID), slog.String("inviter_id", invitation.InviterID), slog.Any("error", err))
			w.metrics.EnrichmentFallback(metrics.FallbackInviter)
			inviter = UnknownInviter
		}
		item.InviterName = inviter

		pending = append(pending, item)
	}
	return pending, nil
}

// Respond accepts or declines a pending invitation on behalf of userID.
// Terminal invitations are never changed. A failed accept leaves the
// invitation in the error state with the failure reason.
func (w *Workflow) Respond(ctx context.Context, invitationID string, accept bool, userID string) (resp Response, err error) {
	const op = "invitations.respond"
	if strings.TrimSpace(invitationID) == "" {
		return Response{}, apperr.Validation(op, "invitation id is required")
	}
	if accept && strings.TrimSpace(userID) == "" {
		return Response{}, apperr.Validation(op, "user id is required to accept")
	}

	ctx, span := logging.StartSpan(ctx, "invitations.respond",
		slog.String("invitation_id", invitationID), slog.Bool("accept", accept), slog.String("user_id", userID))
	defer func() {
		w.metrics.InvitationResponded(outcome(accept, err))
		span.EndErr(err)
	}()

	now := w.now().UTC()
	if !accept {
		invitation, err := w.invitations.Decline(ctx, invitationID, now)
		if err != nil {
			return Response{}, apperr.FromStore(op, err)
		}
		return Response{Invitation: invitation}, nil
	}

	current, err := w.invitations.FindByID(ctx, invitationID)
	if err != nil {
		return Response{}, apperr.FromStore(op, err)
	}
	if current.Status.Terminal() {
		return Response{}, apperr.Conflict(op, "invitation %s is already %s", invitationID, current.Status)
	}

	invitation, group, err := w.invitations.Accept(ctx, invitationID, userID, now)
	switch {
	case err == nil:
		return Response{Invitation: invitation, Group: &group}, nil
	case errors.Is(err, repositories.ErrConflict):
		return Response{}, apperr.FromStore(op, err)
	case errors.Is(err, repositories.ErrGroupNotFound):
		message := fmt.Sprintf("group %s not found", current.GroupID)
		w.markFailed(ctx, invitationID, message, now)
		return Response{}, apperr.NotFound(op, "%s", message)
	case errors.Is(err, repositories.ErrNotFound):
		// The invitation itself vanished after it was read; there is no row to mark.
		return Response{}, apperr.FromStore(op, err)
	default:
		w.markFailed(ctx, invitationID, err.Error(), now)
		return Response{}, apperr.Remote(op, err)
	}
}

func (w *Workflow) markFailed(ctx context.Context, invitationID, message string, at time.Time) {
	if err := w.invitations.MarkFailed(ctx, invitationID, message, at); err != nil {
		logging.FromContext(ctx).Error("record invitation failure",
			slog.String("invitation_id", invitationID), slog.String("reason", message), slog.Any("error", err))
	}
}

func outcome(accept bool, err error) string {
	switch {
	case err == nil && accept:
		return metrics.OutcomeAccepted
	case err == nil:
		return metrics.OutcomeDeclined
	case apperr.Is(err, apperr.KindConflict):
		return metrics.OutcomeConflict
	case apperr.Is(err, apperr.KindNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeFailed
	}
}
