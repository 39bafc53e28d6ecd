package handlers

import (
	"context"
	"net/http"

	"github.com/glimpse/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers. MediaDir,
// when set, is served under /media/ for the local blob store.
type Dependencies struct {
	Auth           AuthService
	Authenticator  middleware.Authenticator
	Sessions       SessionService
	Groups         GroupService
	Uploads        UploadService
	Media          URLResolver
	AuthLimiter    middleware.RateLimiter
	Metrics        http.Handler
	HealthCheck    func(ctx context.Context) error
	MediaDir       string
	MaxUploadBytes int64
}

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Check: deps.HealthCheck}
	auth := AuthHandler{Auth: deps.Auth}
	session := SessionHandler{Sessions: deps.Sessions}
	groups := GroupHandler{Groups: deps.Groups, Sessions: deps.Sessions}
	feed := FeedHandler{Sessions: deps.Sessions, Media: deps.Media}
	invitations := InvitationHandler{Sessions: deps.Sessions}
	uploads := UploadHandler{Uploads: deps.Uploads, MaxBytes: deps.MaxUploadBytes}

	limited := middleware.RateLimit(deps.AuthLimiter, "auth")
	private := middleware.RequireAuth(deps.Authenticator)

	mux.HandleFunc("/healthz", health.Handle)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}
	if deps.MediaDir != "" {
		mux.Handle("/media/", http.StripPrefix("/media/", http.FileServer(http.Dir(deps.MediaDir))))
	}

	mux.Handle("/api/v1/auth/signup", limited(http.HandlerFunc(auth.SignUp)))
	mux.Handle("/api/v1/auth/login", limited(http.HandlerFunc(auth.Login)))
	mux.Handle("/api/v1/auth/refresh", limited(http.HandlerFunc(auth.Refresh)))
	mux.Handle("/api/v1/auth/logout", limited(http.HandlerFunc(auth.Logout)))

	mux.Handle("/api/v1/session", private(http.HandlerFunc(session.Snapshot)))
	mux.Handle("/api/v1/groups", private(http.HandlerFunc(groups.Collection)))
	mux.Handle("/api/v1/groups/invite", private(http.HandlerFunc(groups.Invite)))
	mux.Handle("/api/v1/feed", private(http.HandlerFunc(feed.Feed)))
	mux.Handle("/api/v1/invitations", private(http.HandlerFunc(invitations.List)))
	mux.Handle("/api/v1/invitations/respond", private(http.HandlerFunc(invitations.Respond)))
	mux.Handle("/api/v1/videos", private(http.HandlerFunc(uploads.Create)))
	mux.Handle("/api/v1/uploads", private(http.HandlerFunc(uploads.Task)))
}
