package repositories

import (
	"context"
	"time"

	"github.com/glimpse/backend/internal/models"
)

// GroupRepository defines data access for groups and their membership sub-index.
type GroupRepository interface {
	// Create writes the group and one sub-index row per entry of its membership map.
	Create(ctx context.Context, group models.Group) error
	FindByID(ctx context.Context, id string) (models.Group, error)
	// ListIDsForMember returns the ids of every group the user belongs to.
	ListIDsForMember(ctx context.Context, userID string) ([]string, error)
	// TouchActivity bumps the last-activity timestamp of the given groups.
	TouchActivity(ctx context.Context, groupIDs []string, at time.Time) error
}
