package handlers

import (
	"net/http"
	"strings"

	"github.com/glimpse/backend/internal/middleware"
	"github.com/glimpse/backend/internal/uploads"
)

// UploadHandler accepts raw video uploads and reports their progress.
type UploadHandler struct {
	Uploads  UploadService
	MaxBytes int64
}

// Create handles POST /api/v1/videos?groupIds=a,b&caption=... with the clip
// as the request body. It answers 202 once the upload is queued.
func (h UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()
	query := r.URL.Query()

	body := r.Body
	if h.MaxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.MaxBytes+1)
	}
	task, err := h.Uploads.Submit(ctx, uploads.Request{
		CreatorID:   middleware.UserID(ctx),
		GroupIDs:    strings.Split(query.Get("groupIds"), ","),
		Caption:     query.Get("caption"),
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
	})
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/uploads?id="+task.ID())
	respondJSON(ctx, w, http.StatusAccepted, task.Snapshot())
}

// Task handles GET (progress) and DELETE (cancel) /api/v1/uploads?id=.
func (h UploadHandler) Task(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
		return
	}
	ctx := r.Context()

	task, ok := h.Uploads.Get(r.URL.Query().Get("id"))
	if !ok || task.CreatorID() != middleware.UserID(ctx) {
		respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "upload not found"})
		return
	}
	if r.Method == http.MethodDelete {
		task.Cancel()
	}
	respondJSON(ctx, w, http.StatusOK, task.Snapshot())
}
