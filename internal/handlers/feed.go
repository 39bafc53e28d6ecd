package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/glimpse/backend/internal/logging"
	"github.com/glimpse/backend/internal/middleware"
	"github.com/glimpse/backend/internal/models"
)

// FeedHandler serves the aggregated video feed.
type FeedHandler struct {
	Sessions SessionService
	Media    URLResolver
}

// Feed handles GET /api/v1/feed?limit=N. A missing limit selects the default.
func (h FeedHandler) Feed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()

	limit := -1
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	snapshot, err := h.Sessions.RefreshFeed(ctx, middleware.UserID(ctx), limit)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	videos := make([]videoResponse, 0, len(snapshot.Videos.Items))
	for _, v := range snapshot.Videos.Items {
		videos = append(videos, h.present(r, v))
	}
	respondJSON(ctx, w, http.StatusOK, map[string][]videoResponse{"videos": videos})
}

func (h FeedHandler) present(r *http.Request, v models.Video) videoResponse {
	resp := videoResponse{
		ID:         v.ID,
		CreatorID:  v.CreatorID,
		GroupIDs:   v.GroupIDs,
		Caption:    v.Caption,
		DurationMS: v.Duration.Milliseconds(),
		CreatedAt:  v.CreatedAt,
		ViewCount:  len(v.Viewers),
		Likes:      v.Likes,
		Comments:   v.Comments,
	}
	if h.Media == nil {
		return resp
	}
	ctx := r.Context()
	if v.MediaRef != "" {
		if url, err := h.Media.URL(ctx, v.MediaRef); err == nil {
			resp.MediaURL = url
		} else {
			logging.FromContext(ctx).Warn("resolve media url", "video_id", v.ID, "error", err)
		}
	}
	if v.ThumbnailRef != "" {
		if url, err := h.Media.URL(ctx, v.ThumbnailRef); err == nil {
			resp.ThumbnailURL = url
		} else {
			logging.FromContext(ctx).Warn("resolve thumbnail url", "video_id", v.ID, "error", err)
		}
	}
	return resp
}

type videoResponse struct {
	ID           string    `json:"id"`
	CreatorID    string    `json:"creatorId"`
	GroupIDs     []string  `json:"groupIds"`
	Caption      string    `json:"caption"`
	MediaURL     string    `json:"mediaUrl,omitempty"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	DurationMS   int64     `json:"durationMs"`
	CreatedAt    time.Time `json:"createdAt"`
	ViewCount    int       `json:"viewCount"`
	Likes        int64     `json:"likes"`
	Comments     int64     `json:"comments"`
}
