package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glimpse/backend/internal/db"
	"github.com/glimpse/backend/internal/models"
)

// PostgresVideoRepository provides PostgreSQL-backed persistence for shared videos.
type PostgresVideoRepository struct {
	pool db.Pool
}

// NewPostgresVideoRepository constructs a video repository backed by PostgreSQL.
func NewPostgresVideoRepository(pool db.Pool) *PostgresVideoRepository {
	return &PostgresVideoRepository{pool: pool}
}

// Create stores a new video record.
func (r *PostgresVideoRepository) Create(ctx context.Context, video models.Video) error {
	viewers := video.Viewers
	if viewers == nil {
		viewers = map[string]time.Time{}
	}
	encoded, err := json.Marshal(viewers)
	if err != nil {
		return fmt.Errorf("encode viewers: %w", err)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO videos (id, creator_id, group_ids, caption, media_ref, thumbnail_ref, duration_ms, created_at, viewers, likes, comments)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `, video.ID, video.CreatorID, video.GroupIDs, video.Caption, video.MediaRef, video.ThumbnailRef,
		video.Duration.Milliseconds(), video.CreatedAt, string(encoded), video.Likes, video.Comments)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert video: %w", err)
	}

	return nil
}

// ListForGroup returns the newest videos whose group_ids contain groupID.
func (r *PostgresVideoRepository) ListForGroup(ctx context.Context, groupID string, limit int) ([]models.Video, error) {
	if limit <= 0 {
		return []models.Video{}, nil
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, creator_id, group_ids, caption, media_ref, thumbnail_ref, duration_ms, created_at, viewers, likes, comments
        FROM videos
        WHERE group_ids @> ARRAY[$1]::TEXT[]
        ORDER BY created_at DESC, id
        LIMIT $2
    `, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("query group videos: %w", err)
	}
	defer rows.Close()

	videos := make([]models.Video, 0, limit)
	for rows.Next() {
		var (
			video      models.Video
			durationMS int64
			viewers    []byte
		)
		if err := rows.Scan(&video.ID, &video.CreatorID, &video.GroupIDs, &video.Caption, &video.MediaRef, &video.ThumbnailRef,
			&durationMS, &video.CreatedAt, &viewers, &video.Likes, &video.Comments); err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		video.Duration = time.Duration(durationMS) * time.Millisecond
		if len(viewers) > 0 {
			if err := json.Unmarshal(viewers, &video.Viewers); err != nil {
				Quarantine(ctx, "video", video.ID, err)
				continue
			}
		}
		if err := video.Validate(); err != nil {
			Quarantine(ctx, "video", video.ID, err)
			continue
		}
		videos = append(videos, video)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group videos: %w", err)
	}

	return videos, nil
}

var _ VideoRepository = (*PostgresVideoRepository)(nil)
