package repositories

import (
	"context"

	"github.com/glimpse/backend/internal/models"
)

// VideoRepository defines persistence for shared videos.
type VideoRepository interface {
	Create(ctx context.Context, video models.Video) error
	// ListForGroup returns the newest videos shared into the group, newest first.
	ListForGroup(ctx context.Context, groupID string, limit int) ([]models.Video, error)
}
