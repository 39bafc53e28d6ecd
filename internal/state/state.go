// Package state holds the per-user view of groups, feed and invitations as
// plain values updated by pure reducers.
package state

import (
	"slices"

	"github.com/glimpse/backend/internal/models"
)

// Status tracks the most recent load of a slice.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Profile is the signed-in identity.
type Profile struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

type AuthState struct {
	Status Status   `json:"status"`
	Error  string   `json:"error,omitempty"`
	User   *Profile `json:"user,omitempty"`
}

type GroupsState struct {
	Status Status         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Items  []models.Group `json:"items"`
}

type VideosState struct {
	Status Status         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Items  []models.Video `json:"items"`
}

type InvitationsState struct {
	Status Status                     `json:"status"`
	Error  string                     `json:"error,omitempty"`
	Items  []models.PendingInvitation `json:"items"`
}

// State is the whole client view. Values handed out by a Store are shared
// and must not be mutated.
type State struct {
	Auth        AuthState        `json:"auth"`
	Groups      GroupsState      `json:"groups"`
	Videos      VideosState      `json:"videos"`
	Invitations InvitationsState `json:"invitations"`
}

// Initial returns the signed-out state.
func Initial() State {
	return State{
		Auth:        AuthState{Status: StatusIdle},
		Groups:      GroupsState{Status: StatusIdle, Items: []models.Group{}},
		Videos:      VideosState{Status: StatusIdle, Items: []models.Video{}},
		Invitations: InvitationsState{Status: StatusIdle, Items: []models.PendingInvitation{}},
	}
}

// Action is any value accepted by Reduce.
type Action interface {
	action()
}

// AuthAction updates the auth slice.
type AuthAction interface {
	Action
	authAction()
}

// GroupsAction updates the groups slice.
type GroupsAction interface {
	Action
	groupsAction()
}

// VideosAction updates the videos slice.
type VideosAction interface {
	Action
	videosAction()
}

// InvitationsAction updates the invitations slice.
type InvitationsAction interface {
	Action
	invitationsAction()
}

type (
	SignedIn  struct{ User Profile }
	SignedOut struct{}

	GroupsRequested struct{}
	GroupsLoaded    struct{ Groups []models.Group }
	GroupsFailed    struct{ Err error }
	// GroupUpdated replaces one group, adding it when it is new to the list.
	GroupUpdated struct{ Group models.Group }

	FeedRequested struct{}
	FeedLoaded    struct{ Videos []models.Video }
	FeedFailed    struct{ Err error }

	InvitationsRequested struct{}
	InvitationsLoaded    struct{ Invitations []models.PendingInvitation }
	InvitationsFailed    struct{ Err error }
	// InvitationResolved drops an answered invitation from the pending list.
	InvitationResolved struct{ ID string }
	// InvitationRespondFailed records a failed answer. Settled is set when the
	// stored invitation is no longer pending, which drops it from the list.
	InvitationRespondFailed struct {
		ID      string
		Err     error
		Settled bool
	}
)

func (SignedIn) action() {}
func (SignedIn) authAction() {}

func (SignedOut) action() {}
func (SignedOut) authAction() {}

func (GroupsRequested) action() {}
func (GroupsRequested) groupsAction() {}
func (GroupsLoaded) action() {}
func (GroupsLoaded) groupsAction() {}
func (GroupsFailed) action() {}
func (GroupsFailed) groupsAction() {}
func (GroupUpdated) action() {}
func (GroupUpdated) groupsAction() {}

func (FeedRequested) action() {}
func (FeedRequested) videosAction() {}
func (FeedLoaded) action() {}
func (FeedLoaded) videosAction() {}
func (FeedFailed) action() {}
func (FeedFailed) videosAction() {}

func (InvitationsRequested) action() {}
func (InvitationsRequested) invitationsAction() {}
func (InvitationsLoaded) action() {}
func (InvitationsLoaded) invitationsAction() {}
func (InvitationsFailed) action() {}
func (InvitationsFailed) invitationsAction() {}
func (InvitationResolved) action() {}
func (InvitationResolved) invitationsAction() {}
func (InvitationRespondFailed) action() {}
func (InvitationRespondFailed) invitationsAction() {}

// Reduce applies action to s. Signing out resets every slice.
func Reduce(s State, action Action) State {
	switch a := action.(type) {
	case SignedOut:
		return Initial()
	case AuthAction:
		s.Auth = ReduceAuth(s.Auth, a)
	case GroupsAction:
		s.Groups = ReduceGroups(s.Groups, a)
	case VideosAction:
		s.Videos = ReduceVideos(s.Videos, a)
	case InvitationsAction:
		s.Invitations = ReduceInvitations(s.Invitations, a)
	}
	return s
}

func ReduceAuth(s AuthState, action AuthAction) AuthState {
	switch a := action.(type) {
	case SignedIn:
		user := a.User
		return AuthState{Status: StatusSucceeded, User: &user}
	case SignedOut:
		return AuthState{Status: StatusIdle}
	}
	return s
}

// ReduceGroups keeps the loaded groups when a refresh fails.
func ReduceGroups(s GroupsState, action GroupsAction) GroupsState {
	switch a := action.(type) {
	case GroupsRequested:
		s.Status, s.Error = StatusLoading, ""
	case GroupsLoaded:
		s = GroupsState{Status: StatusSucceeded, Items: nonNil(slices.Clone(a.Groups))}
	case GroupsFailed:
		s.Status, s.Error = StatusFailed, errText(a.Err)
	case GroupUpdated:
		items := slices.Clone(s.Items)
		i := slices.IndexFunc(items, func(g models.Group) bool { return g.ID == a.Group.ID })
		if i >= 0 {
			items[i] = a.Group
		} else {
			items = append(items, a.Group)
		}
		s.Items = items
	}
	return s
}

// ReduceVideos keeps the loaded feed when a refresh fails.
func ReduceVideos(s VideosState, action VideosAction) VideosState {
	switch a := action.(type) {
	case FeedRequested:
		s.Status, s.Error = StatusLoading, ""
	case FeedLoaded:
		s = VideosState{Status: StatusSucceeded, Items: nonNil(slices.Clone(a.Videos))}
	case FeedFailed:
		s.Status, s.Error = StatusFailed, errText(a.Err)
	}
	return s
}

// ReduceInvitations keeps the loaded invitations when a refresh fails.
func ReduceInvitations(s InvitationsState, action InvitationsAction) InvitationsState {
	switch a := action.(type) {
	case InvitationsRequested:
		s.Status, s.Error = StatusLoading, ""
	case InvitationsLoaded:
		s = InvitationsState{Status: StatusSucceeded, Items: nonNil(slices.Clone(a.Invitations))}
	case InvitationsFailed:
		s.Status, s.Error = StatusFailed, errText(a.Err)
	case InvitationResolved:
		s.Items = withoutInvitation(s.Items, a.ID)
	case InvitationRespondFailed:
		s.Status, s.Error = StatusFailed, errText(a.Err)
		if a.Settled {
			s.Items = withoutInvitation(s.Items, a.ID)
		}
	}
	return s
}

func withoutInvitation(items []models.PendingInvitation, id string) []models.PendingInvitation {
	return slices.DeleteFunc(slices.Clone(items), func(p models.PendingInvitation) bool {
		return p.ID == id
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
