package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// User represents an account within the Glimpse platform.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Password    string    `json:"-"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl"`
	Timezone    string    `json:"timezone"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Name returns the label shown to other users.
func (u User) Name() string {
	if name := strings.TrimSpace(u.DisplayName); name != "" {
		return name
	}
	return u.Email
}

// Validate checks the invariants of a user record read from a store.
func (u User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user: missing id")
	}
	return nil
}

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Membership is the value side of a group's membership map.
type Membership struct {
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Group is a private circle of users who can see each other's videos.
type Group struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Description    string                `json:"description"`
	CoverImage     string                `json:"coverImage"`
	CreatedBy      string                `json:"createdBy"`
	CreatedAt      time.Time             `json:"createdAt"`
	LastActivityAt time.Time             `json:"lastActivityAt"`
	Members        map[string]Membership `json:"members"`
}

// HasMember reports whether userID is a key of the membership map.
func (g Group) HasMember(userID string) bool {
	_, ok := g.Members[userID]
	return ok
}

// Validate checks the invariants of a group record read from a store.
func (g Group) Validate() error {
	if strings.TrimSpace(g.ID) == "" {
		return errors.New("group: missing id")
	}
	if len(g.Members) == 0 {
		return fmt.Errorf("group %s: empty membership map", g.ID)
	}
	for userID, m := range g.Members {
		if strings.TrimSpace(userID) == "" {
			return fmt.Errorf("group %s: membership with empty user id", g.ID)
		}
		if m.Role != RoleAdmin && m.Role != RoleMember {
			return fmt.Errorf("group %s: member %s has unknown role %q", g.ID, userID, m.Role)
		}
	}
	return nil
}

// GroupMember is a row of the group-scoped membership sub-index.
type GroupMember struct {
	GroupID  string
	UserID   string
	Role     string
	JoinedAt time.Time
}

// MaxVideoDuration is the policy cap on clip length.
const MaxVideoDuration = 90 * time.Second

// Video is a clip shared into one or more groups.
type Video struct {
	ID           string               `json:"id"`
	CreatorID    string               `json:"creatorId"`
	GroupIDs     []string             `json:"groupIds"`
	Caption      string               `json:"caption"`
	MediaRef     string               `json:"mediaRef"`
	ThumbnailRef string               `json:"thumbnailRef"`
	Duration     time.Duration        `json:"duration"`
	CreatedAt    time.Time            `json:"createdAt"`
	Viewers      map[string]time.Time `json:"viewers"`
	Likes        int64                `json:"likes"`
	Comments     int64                `json:"comments"`
}

// Validate checks the invariants of a video record read from a store.
func (v Video) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return errors.New("video: missing id")
	}
	if len(v.GroupIDs) == 0 {
		return fmt.Errorf("video %s: no group ids", v.ID)
	}
	if v.CreatedAt.IsZero() {
		return fmt.Errorf("video %s: missing creation time", v.ID)
	}
	if v.Likes < 0 || v.Comments < 0 {
		return fmt.Errorf("video %s: negative reaction counts", v.ID)
	}
	return nil
}

// InvitationStatus is the lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationError    InvitationStatus = "error"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s InvitationStatus) Terminal() bool {
	switch s {
	case InvitationAccepted, InvitationDeclined, InvitationError:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s InvitationStatus) Valid() bool {
	return s == InvitationPending || s.Terminal()
}

// Invitation is an offer for an email address to join a group.
type Invitation struct {
	ID          string           `json:"id"`
	GroupID     string           `json:"groupId"`
	Email       string           `json:"email"`
	InviterID   string           `json:"inviterId"`
	Status      InvitationStatus `json:"status"`
	Message     string           `json:"message,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	RespondedAt *time.Time       `json:"respondedAt,omitempty"`
}

// Validate checks the invariants of an invitation record read from a store.
func (i Invitation) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return errors.New("invitation: missing id")
	}
	if strings.TrimSpace(i.GroupID) == "" {
		return fmt.Errorf("invitation %s: missing group id", i.ID)
	}
	if strings.TrimSpace(i.Email) == "" {
		return fmt.Errorf("invitation %s: missing email", i.ID)
	}
	if !i.Status.Valid() {
		return fmt.Errorf("invitation %s: unknown status %q", i.ID, i.Status)
	}
	return nil
}

// PendingInvitation is an invitation enriched with display names.
type PendingInvitation struct {
	Invitation
	GroupName   string `json:"groupName"`
	InviterName string `json:"inviterName"`
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
