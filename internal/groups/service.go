// Package groups creates groups and invites people into them.
package groups

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glimpse/backend/internal/apperr"
	"github.com/glimpse/backend/internal/logging"
	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/repositories"
)

const maxNameLength = 80

// UserStore resolves the people named by group operations.
type UserStore interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

// Service implements group creation and invitations.
type Service struct {
	groups      repositories.GroupRepository
	invitations repositories.InvitationRepository
	users       UserStore
	now         func() time.Time
}

// NewService constructs a Service.
func NewService(groups repositories.GroupRepository, invitations repositories.InvitationRepository, users UserStore) *Service {
	return &Service{groups: groups, invitations: invitations, users: users, now: time.Now}
}

// CreateParams describes a new group.
type CreateParams struct {
	CreatorID    string
	Name         string
	Description  string
	CoverImage   string
	InviteEmails []string
}

// Created is the result of Create.
type Created struct {
	Group       models.Group
	Invitations []models.Invitation
}

// Create writes a group with the creator as its only admin and then one
// pending invitation per distinct invite email. Invalid emails reject the
// whole request before anything is written.
func (s *Service) Create(ctx context.Context, params CreateParams) (Created, error) {
	const op = "groups.create"
	name := strings.TrimSpace(params.Name)
	switch {
	case strings.TrimSpace(params.CreatorID) == "":
		return Created{}, apperr.Validation(op, "creator id is required")
	case name == "":
		return Created{}, apperr.Validation(op, "group name is required")
	case len(name) > maxNameLength:
		return Created{}, apperr.Validation(op, "group name must be at most %d characters", maxNameLength)
	}

	creator, err := s.users.FindByID(ctx, params.CreatorID)
	if err != nil {
		return Created{}, apperr.FromStore(op, err)
	}

	emails, err := inviteList(params.InviteEmails, creator.Email)
	if err != nil {
		return Created{}, apperr.Validation(op, "%v", err)
	}

	now := s.now().UTC()
	group := models.Group{
		ID:             uuid.NewString(),
		Name:           name,
		Description:    strings.TrimSpace(params.Description),
		CoverImage:     strings.TrimSpace(params.CoverImage),
		CreatedBy:      creator.ID,
		CreatedAt:      now,
		LastActivityAt: now,
		Members: map[string]models.Membership{
			creator.ID: {Role: models.RoleAdmin, JoinedAt: now},
		},
	}
	if err := s.groups.Create(ctx, group); err != nil {
		return Created{}, apperr.FromStore(op, err)
	}

	logger := logging.FromContext(ctx).With(slog.String("group_id", group.ID))
	logger.Info("group created", slog.String("creator_id", creator.ID), slog.Int("invites", len(emails)))

	created := Created{Group: group, Invitations: make([]models.Invitation, 0, len(emails))}
	for _, email := range emails {
		invitation := newInvitation(group.ID, creator.ID, email, now)
		if err := s.invitations.Create(ctx, invitation); err != nil {
			logger.Error("create invitation", slog.String("email", email), slog.Any("error", err))
			return created, apperr.Remote(op, err)
		}
		created.Invitations = append(created.Invitations, invitation)
	}
	return created, nil
}

// Invite sends a pending invitation for email into groupID on behalf of an
// existing member. An inviter outside the group is reported as a conflict.
func (s *Service) Invite(ctx context.Context, groupID, inviterID, email string) (models.Invitation, error) {
	const op = "groups.invite"
	email = models.NormalizeEmail(email)
	if err := validEmail(email); err != nil {
		return models.Invitation{}, apperr.Validation(op, "%v", err)
	}

	group, err := s.Get(ctx, groupID)
	if err != nil {
		return models.Invitation{}, err
	}
	if !group.HasMember(inviterID) {
		return models.Invitation{}, apperr.Conflict(op, "user %s is not a member of group %s", inviterID, groupID)
	}

	invitee, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil && group.HasMember(invitee.ID):
		return models.Invitation{}, apperr.Conflict(op, "%s is already a member of group %s", email, groupID)
	case err != nil && !errors.Is(err, repositories.ErrNotFound):
		return models.Invitation{}, apperr.Remote(op, err)
	}

	pending, err := s.invitations.ListPendingByEmail(ctx, email)
	if err != nil {
		return models.Invitation{}, apperr.Remote(op, err)
	}
	for _, existing := range pending {
		if existing.GroupID == groupID {
			return models.Invitation{}, apperr.Conflict(op, "%s already has a pending invitation to group %s", email, groupID)
		}
	}

	invitation := newInvitation(groupID, inviterID, email, s.now().UTC())
	if err := s.invitations.Create(ctx, invitation); err != nil {
		return models.Invitation{}, apperr.FromStore(op, err)
	}
	logging.FromContext(ctx).Info("invitation sent",
		slog.String("group_id", groupID), slog.String("invitation_id", invitation.ID), slog.String("inviter_id", inviterID))
	return invitation, nil
}

// Get loads a group.
func (s *Service) Get(ctx context.Context, groupID string) (models.Group, error) {
	const op = "groups.get"
	if strings.TrimSpace(groupID) == "" {
		return models.Group{}, apperr.Validation(op, "group id is required")
	}
	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		return models.Group{}, apperr.FromStore(op, err)
	}
	return group, nil
}

func newInvitation(groupID, inviterID, email string, at time.Time) models.Invitation {
	return models.Invitation{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Email:     email,
		InviterID: inviterID,
		Status:    models.InvitationPending,
		CreatedAt: at,
	}
}

// inviteList normalises and de-duplicates invite emails, dropping the
// creator's own address and blanks.
func inviteList(raw []string, creatorEmail string) ([]string, error) {
	creatorEmail = models.NormalizeEmail(creatorEmail)
	seen := make(map[string]struct{}, len(raw))
	emails := make([]string, 0, len(raw))
	for _, entry := range raw {
		email := models.NormalizeEmail(entry)
		if email == "" || email == creatorEmail {
			continue
		}
		if err := validEmail(email); err != nil {
			return nil, err
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		emails = append(emails, email)
	}
	return emails, nil
}

func validEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.New("invalid email address " + email)
	}
	return nil
}
