// Package memstore keeps every repository in process memory. It backs the
// "memory" store mode and the service tests.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/repositories"
)

// Store holds the shared tables. The repository views share one lock so that
// Accept can update an invitation and a group atomically.
type Store struct {
	mu          sync.RWMutex
	users       map[string]models.User
	groups      map[string]models.Group
	members     map[string]map[string]models.GroupMember
	videos      map[string]models.Video
	invitations map[string]models.Invitation

	Users       *Users
	Groups      *Groups
	Videos      *Videos
	Invitations *Invitations
}

// New returns an empty store.
func New() *Store {
	s := &Store{
		users:       make(map[string]models.User),
		groups:      make(map[string]models.Group),
		members:     make(map[string]map[string]models.GroupMember),
		videos:      make(map[string]models.Video),
		invitations: make(map[string]models.Invitation),
	}
	s.Users = &Users{s: s}
	s.Groups = &Groups{s: s}
	s.Videos = &Videos{s: s}
	s.Invitations = &Invitations{s: s}
	return s
}

func cloneGroup(g models.Group) models.Group {
	g.Members = maps.Clone(g.Members)
	return g
}

func cloneVideo(v models.Video) models.Video {
	v.GroupIDs = slices.Clone(v.GroupIDs)
	v.Viewers = maps.Clone(v.Viewers)
	return v
}

// Users implements repositories.UserRepository.
type Users struct{ s *Store }

func (u *Users) Create(_ context.Context, user models.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.users[user.ID]; ok {
		return repositories.ErrConflict
	}
	for _, existing := range u.s.users {
		if existing.Email == user.Email {
			return repositories.ErrConflict
		}
	}
	u.s.users[user.ID] = user
	return nil
}

func (u *Users) FindByEmail(_ context.Context, email string) (models.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, user := range u.s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return models.User{}, repositories.ErrNotFound
}

func (u *Users) FindByID(_ context.Context, id string) (models.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	user, ok := u.s.users[id]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return user, nil
}

func (u *Users) Update(_ context.Context, user models.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.users[user.ID]; !ok {
		return repositories.ErrNotFound
	}
	for id, existing := range u.s.users {
		if id != user.ID && existing.Email == user.Email {
			return repositories.ErrConflict
		}
	}
	u.s.users[user.ID] = user
	return nil
}

// Groups implements repositories.GroupRepository.
type Groups struct{ s *Store }

func (g *Groups) Create(_ context.Context, group models.Group) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if _, ok := g.s.groups[group.ID]; ok {
		return repositories.ErrConflict
	}
	g.s.groups[group.ID] = cloneGroup(group)
	for userID, m := range group.Members {
		g.s.addMemberLocked(group.ID, userID, m)
	}
	return nil
}

func (s *Store) addMemberLocked(groupID, userID string, m models.Membership) {
	rows, ok := s.members[userID]
	if !ok {
		rows = make(map[string]models.GroupMember)
		s.members[userID] = rows
	}
	if _, exists := rows[groupID]; exists {
		return
	}
	rows[groupID] = models.GroupMember{GroupID: groupID, UserID: userID, Role: m.Role, JoinedAt: m.JoinedAt}
}

func (g *Groups) FindByID(_ context.Context, id string) (models.Group, error) {
	g.s.mu.RLock()
	defer g.s.mu.RUnlock()
	group, ok := g.s.groups[id]
	if !ok {
		return models.Group{}, repositories.ErrNotFound
	}
	if err := group.Validate(); err != nil {
		return models.Group{}, fmt.Errorf("%v: %w", err, repositories.ErrMalformed)
	}
	return cloneGroup(group), nil
}

func (g *Groups) ListIDsForMember(_ context.Context, userID string) ([]string, error) {
	g.s.mu.RLock()
	defer g.s.mu.RUnlock()
	rows := make([]models.GroupMember, 0, len(g.s.members[userID]))
	for _, row := range g.s.members[userID] {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].JoinedAt.Equal(rows[j].JoinedAt) {
			return rows[i].JoinedAt.Before(rows[j].JoinedAt)
		}
		return rows[i].GroupID < rows[j].GroupID
	})
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.GroupID
	}
	return ids, nil
}

func (g *Groups) TouchActivity(_ context.Context, groupIDs []string, at time.Time) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	for _, id := range groupIDs {
		group, ok := g.s.groups[id]
		if !ok || !group.LastActivityAt.Before(at) {
			continue
		}
		group.LastActivityAt = at
		g.s.groups[id] = group
	}
	return nil
}

// RemoveGroup deletes a group record while leaving invitations and the
// membership sub-index untouched, as a crashed cascade would.
func (g *Groups) RemoveGroup(id string) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	delete(g.s.groups, id)
}

// Videos implements repositories.VideoRepository.
type Videos struct{ s *Store }

func (v *Videos) Create(_ context.Context, video models.Video) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.videos[video.ID]; ok {
		return repositories.ErrConflict
	}
	v.s.videos[video.ID] = cloneVideo(video)
	return nil
}

func (v *Videos) ListForGroup(_ context.Context, groupID string, limit int) ([]models.Video, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	videos := []models.Video{}
	if limit <= 0 {
		return videos, nil
	}
	for _, video := range v.s.videos {
		if slices.Contains(video.GroupIDs, groupID) {
			videos = append(videos, cloneVideo(video))
		}
	}
	sort.Slice(videos, func(i, j int) bool {
		if !videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].CreatedAt.After(videos[j].CreatedAt)
		}
		return videos[i].ID < videos[j].ID
	})
	if len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

// Invitations implements repositories.InvitationRepository.
type Invitations struct{ s *Store }

func (i *Invitations) Create(_ context.Context, invitation models.Invitation) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if _, ok := i.s.invitations[invitation.ID]; ok {
		return repositories.ErrConflict
	}
	i.s.invitations[invitation.ID] = invitation
	return nil
}

func (i *Invitations) FindByID(_ context.Context, id string) (models.Invitation, error) {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	invitation, ok := i.s.invitations[id]
	if !ok {
		return models.Invitation{}, repositories.ErrNotFound
	}
	return invitation, nil
}

func (i *Invitations) ListPendingByEmail(_ context.Context, email string) ([]models.Invitation, error) {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	pending := []models.Invitation{}
	for _, invitation := range i.s.invitations {
		if invitation.Email == email && invitation.Status == models.InvitationPending {
			pending = append(pending, invitation)
		}
	}
	sort.Slice(pending, func(a, b int) bool {
		if !pending[a].CreatedAt.Equal(pending[b].CreatedAt) {
			return pending[a].CreatedAt.Before(pending[b].CreatedAt)
		}
		return pending[a].ID < pending[b].ID
	})
	return pending, nil
}

func (i *Invitations) pendingLocked(id string) (models.Invitation, error) {
	invitation, ok := i.s.invitations[id]
	if !ok {
		return models.Invitation{}, fmt.Errorf("invitation %s: %w", id, repositories.ErrNotFound)
	}
	if invitation.Status != models.InvitationPending {
		return models.Invitation{}, fmt.Errorf("invitation %s is %s: %w", id, invitation.Status, repositories.ErrConflict)
	}
	return invitation, nil
}

func (i *Invitations) Decline(_ context.Context, id string, at time.Time) (models.Invitation, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	invitation, err := i.pendingLocked(id)
	if err != nil {
		return models.Invitation{}, err
	}
	invitation.Status = models.InvitationDeclined
	invitation.RespondedAt = &at
	i.s.invitations[id] = invitation
	return invitation, nil
}

func (i *Invitations) Accept(_ context.Context, id, userID string, at time.Time) (models.Invitation, models.Group, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	invitation, err := i.pendingLocked(id)
	if err != nil {
		return models.Invitation{}, models.Group{}, err
	}
	group, ok := i.s.groups[invitation.GroupID]
	if !ok {
		return models.Invitation{}, models.Group{}, fmt.Errorf("invitation %s: %w", id, repositories.ErrGroupNotFound)
	}

	group = cloneGroup(group)
	membership, exists := group.Members[userID]
	if !exists {
		membership = models.Membership{Role: models.RoleMember, JoinedAt: at}
		if group.Members == nil {
			group.Members = make(map[string]models.Membership)
		}
		group.Members[userID] = membership
	}
	i.s.groups[group.ID] = group
	i.s.addMemberLocked(group.ID, userID, membership)

	invitation.Status = models.InvitationAccepted
	invitation.RespondedAt = &at
	i.s.invitations[id] = invitation
	return invitation, cloneGroup(group), nil
}

func (i *Invitations) MarkFailed(_ context.Context, id, message string, at time.Time) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	invitation, err := i.pendingLocked(id)
	if err != nil {
		return err
	}
	invitation.Status = models.InvitationError
	invitation.Message = message
	invitation.RespondedAt = &at
	i.s.invitations[id] = invitation
	return nil
}

var (
	_ repositories.UserRepository       = (*Users)(nil)
	_ repositories.GroupRepository      = (*Groups)(nil)
	_ repositories.VideoRepository      = (*Videos)(nil)
	_ repositories.InvitationRepository = (*Invitations)(nil)
)
