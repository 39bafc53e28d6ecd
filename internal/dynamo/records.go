package dynamo

import (
	"fmt"
	"time"

	"github.com/glimpse/backend/internal/models"
)

type userRecord struct {
	ID           string    `dynamodbav:"id"`
	Email        string    `dynamodbav:"email"`
	PasswordHash string    `dynamodbav:"passwordHash"`
	DisplayName  string    `dynamodbav:"displayName,omitempty"`
	AvatarURL    string    `dynamodbav:"avatarUrl,omitempty"`
	Timezone     string    `dynamodbav:"timezone,omitempty"`
	CreatedAt    time.Time `dynamodbav:"createdAt"`
	UpdatedAt    time.Time `dynamodbav:"updatedAt"`
}

// emailGuard reserves an email address inside the users table.
type emailGuard struct {
	ID     string `dynamodbav:"id"`
	UserID string `dynamodbav:"userId"`
}

func emailGuardID(email string) string { return "email#" + email }

func newUserRecord(u models.User) userRecord {
	return userRecord{
		ID: u.ID, Email: u.Email, PasswordHash: u.Password, DisplayName: u.DisplayName,
		AvatarURL: u.AvatarURL, Timezone: u.Timezone, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

func (r userRecord) model() models.User {
	return models.User{
		ID: r.ID, Email: r.Email, Password: r.PasswordHash, DisplayName: r.DisplayName,
		AvatarURL: r.AvatarURL, Timezone: r.Timezone, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

type memberRecord struct {
	Role     string    `dynamodbav:"role"`
	JoinedAt time.Time `dynamodbav:"joinedAt"`
}

// lastActivityAt is stored as epoch milliseconds so that the conditional
// bump in TouchActivity can compare numerically.
type groupRecord struct {
	ID             string                  `dynamodbav:"id"`
	Name           string                  `dynamodbav:"name"`
	Description    string                  `dynamodbav:"description,omitempty"`
	CoverImage     string                  `dynamodbav:"coverImage,omitempty"`
	CreatedBy      string                  `dynamodbav:"createdBy"`
	CreatedAt      time.Time               `dynamodbav:"createdAt"`
	LastActivityAt int64                   `dynamodbav:"lastActivityAt"`
	Members        map[string]memberRecord `dynamodbav:"members"`
}

func newGroupRecord(g models.Group) groupRecord {
	members := make(map[string]memberRecord, len(g.Members))
	for userID, m := range g.Members {
		members[userID] = memberRecord{Role: m.Role, JoinedAt: m.JoinedAt}
	}
	return groupRecord{
		ID: g.ID, Name: g.Name, Description: g.Description, CoverImage: g.CoverImage,
		CreatedBy: g.CreatedBy, CreatedAt: g.CreatedAt, LastActivityAt: g.LastActivityAt.UnixMilli(),
		Members: members,
	}
}

func (r groupRecord) model() (models.Group, error) {
	members := make(map[string]models.Membership, len(r.Members))
	for userID, m := range r.Members {
		members[userID] = models.Membership{Role: m.Role, JoinedAt: m.JoinedAt}
	}
	group := models.Group{
		ID: r.ID, Name: r.Name, Description: r.Description, CoverImage: r.CoverImage,
		CreatedBy: r.CreatedBy, CreatedAt: r.CreatedAt, LastActivityAt: time.UnixMilli(r.LastActivityAt).UTC(),
		Members: members,
	}
	return group, group.Validate()
}

type groupMemberRecord struct {
	GroupID  string    `dynamodbav:"groupId"`
	UserID   string    `dynamodbav:"userId"`
	Role     string    `dynamodbav:"role"`
	JoinedAt time.Time `dynamodbav:"joinedAt"`
}

type videoRecord struct {
	ID           string               `dynamodbav:"id"`
	CreatorID    string               `dynamodbav:"creatorId"`
	GroupIDs     []string             `dynamodbav:"groupIds"`
	Caption      string               `dynamodbav:"caption,omitempty"`
	MediaRef     string               `dynamodbav:"mediaRef"`
	ThumbnailRef string               `dynamodbav:"thumbnailRef,omitempty"`
	DurationMS   int64                `dynamodbav:"durationMs"`
	CreatedAt    time.Time            `dynamodbav:"createdAt"`
	Viewers      map[string]time.Time `dynamodbav:"viewers,omitempty"`
	Likes        int64                `dynamodbav:"likes"`
	Comments     int64                `dynamodbav:"comments"`
}

// groupVideoRecord is the per-group copy of a video, sorted by creation time.
type groupVideoRecord struct {
	GroupID string      `dynamodbav:"groupId"`
	SortKey string      `dynamodbav:"sk"`
	Video   videoRecord `dynamodbav:"video"`
}

// videoSortKey orders lexicographically by creation time.
func videoSortKey(createdAt time.Time, id string) string {
	return fmt.Sprintf("%020d#%s", createdAt.UnixNano(), id)
}

func newVideoRecord(v models.Video) videoRecord {
	return videoRecord{
		ID: v.ID, CreatorID: v.CreatorID, GroupIDs: v.GroupIDs, Caption: v.Caption,
		MediaRef: v.MediaRef, ThumbnailRef: v.ThumbnailRef, DurationMS: v.Duration.Milliseconds(),
		CreatedAt: v.CreatedAt, Viewers: v.Viewers, Likes: v.Likes, Comments: v.Comments,
	}
}

func (r videoRecord) model() (models.Video, error) {
	video := models.Video{
		ID: r.ID, CreatorID: r.CreatorID, GroupIDs: r.GroupIDs, Caption: r.Caption,
		MediaRef: r.MediaRef, ThumbnailRef: r.ThumbnailRef, Duration: time.Duration(r.DurationMS) * time.Millisecond,
		CreatedAt: r.CreatedAt, Viewers: r.Viewers, Likes: r.Likes, Comments: r.Comments,
	}
	return video, video.Validate()
}

type invitationRecord struct {
	ID          string     `dynamodbav:"id"`
	GroupID     string     `dynamodbav:"groupId"`
	Email       string     `dynamodbav:"email"`
	InviterID   string     `dynamodbav:"inviterId"`
	Status      string     `dynamodbav:"status"`
	Message     string     `dynamodbav:"message,omitempty"`
	CreatedAt   time.Time  `dynamodbav:"createdAt"`
	RespondedAt *time.Time `dynamodbav:"respondedAt,omitempty"`
}

func newInvitationRecord(i models.Invitation) invitationRecord {
	return invitationRecord{
		ID: i.ID, GroupID: i.GroupID, Email: i.Email, InviterID: i.InviterID, Status: string(i.Status),
		Message: i.Message, CreatedAt: i.CreatedAt, RespondedAt: i.RespondedAt,
	}
}

func (r invitationRecord) model() (models.Invitation, error) {
	invitation := models.Invitation{
		ID: r.ID, GroupID: r.GroupID, Email: r.Email, InviterID: r.InviterID,
		Status: models.InvitationStatus(r.Status), Message: r.Message, CreatedAt: r.CreatedAt, RespondedAt: r.RespondedAt,
	}
	return invitation, invitation.Validate()
}

type sessionRecord struct {
	Token     string    `dynamodbav:"token"`
	Kind      string    `dynamodbav:"kind"`
	UserID    string    `dynamodbav:"userId"`
	ExpiresAt time.Time `dynamodbav:"expiresAt"`
	// TTL lets DynamoDB expire stale sessions on its own.
	TTL int64 `dynamodbav:"ttl"`
}
