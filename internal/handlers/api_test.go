package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glimpse/backend/internal/apperr"
	"github.com/glimpse/backend/internal/auth"
	"github.com/glimpse/backend/internal/feed"
	"github.com/glimpse/backend/internal/groups"
	"github.com/glimpse/backend/internal/invitations"
	"github.com/glimpse/backend/internal/membership"
	"github.com/glimpse/backend/internal/memstore"
	"github.com/glimpse/backend/internal/metrics"
	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/session"
	"github.com/glimpse/backend/internal/storage"
	"github.com/glimpse/backend/internal/uploads"
)

type apiHarness struct {
	server   *httptest.Server
	pipeline *uploads.Pipeline
}

func newAPIHarness(t *testing.T) apiHarness {
	t.Helper()
	store := memstore.New()
	authSvc := auth.NewService(store.Users, auth.NewManager(time.Minute, time.Hour, auth.NewInMemorySessionStore()))
	m := metrics.New()

	resolver := membership.NewResolver(store.Groups)
	aggregator := feed.NewAggregator(resolver, store.Videos, feed.Options{}, m)
	workflow := invitations.NewWorkflow(store.Invitations, store.Groups, store.Users, nil, m)
	coordinator := session.NewCoordinator(authSvc, resolver, aggregator, workflow, store.Users, -1)

	mediaDir := t.TempDir()
	blobs, err := storage.NewLocalStorage(mediaDir, "/media")
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	pipeline := uploads.NewPipeline(store.Groups, store.Videos, blobs, nil, uploads.Config{SpoolDir: t.TempDir()}, m, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		pipeline.Shutdown(ctx)
	})

	mux := http.NewServeMux()
	RegisterRoutes(mux, Dependencies{
		Auth:          authSvc,
		Authenticator: authSvc,
		Sessions:      coordinator,
		Groups:        groups.NewService(store.Groups, store.Invitations, store.Users),
		Uploads:       pipeline,
		Media:         blobs,
		Metrics:       m.Handler(),
		MediaDir:      mediaDir,
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return apiHarness{server: server, pipeline: pipeline}
}

func (h apiHarness) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (h apiHarness) signUp(t *testing.T, email, name string) string {
	t.Helper()
	var resp authResponse
	status := h.do(t, http.MethodPost, "/api/v1/auth/signup", "", signUpRequest{Email: email, Password: "supersafe", DisplayName: name}, &resp)
	if status != http.StatusCreated {
		t.Fatalf("signup %s: status %d", email, status)
	}
	return resp.Tokens.AccessToken
}

func TestInvitationToFeedFlow(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.signUp(t, "alice@example.com", "Alice")
	bob := h.signUp(t, "bob@example.com", "")

	if status := h.do(t, http.MethodGet, "/api/v1/feed", "", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected anonymous feed to be rejected got %d", status)
	}

	var created createGroupResponse
	status := h.do(t, http.MethodPost, "/api/v1/groups", alice, createGroupRequest{Name: "Surf", InviteEmails: []string{"BOB@example.com"}}, &created)
	if status != http.StatusCreated || len(created.Invitations) != 1 {
		t.Fatalf("create group: status %d, %+v", status, created)
	}

	var pending map[string][]models.PendingInvitation
	if status := h.do(t, http.MethodGet, "/api/v1/invitations", bob, nil, &pending); status != http.StatusOK {
		t.Fatalf("list invitations: status %d", status)
	}
	items := pending["invitations"]
	if len(items) != 1 || items[0].GroupName != "Surf" || items[0].InviterName != "Alice" {
		t.Fatalf("unexpected pending invitations %+v", items)
	}

	if status := h.do(t, http.MethodPost, "/api/v1/invitations/respond", alice, map[string]any{"invitationId": items[0].ID, "accept": true}, nil); status != http.StatusNotFound {
		t.Fatalf("expected other users to be refused got %d", status)
	}

	var answered respondResponse
	status = h.do(t, http.MethodPost, "/api/v1/invitations/respond", bob, map[string]any{"invitationId": items[0].ID, "accept": true}, &answered)
	if status != http.StatusOK || answered.Invitation.Status != models.InvitationAccepted || answered.Group == nil {
		t.Fatalf("accept: status %d, %+v", status, answered)
	}
	if status := h.do(t, http.MethodPost, "/api/v1/invitations/respond", bob, map[string]any{"invitationId": items[0].ID, "accept": false}, nil); status != http.StatusConflict {
		t.Fatalf("expected second response to conflict got %d", status)
	}

	var progress uploads.Progress
	status = h.do(t, http.MethodPost, "/api/v1/videos?groupIds="+created.Group.ID+"&caption=waves", alice, "fake-mp4-bytes", &progress)
	if status != http.StatusAccepted || progress.ID == "" {
		t.Fatalf("upload: status %d, %+v", status, progress)
	}
	task, ok := h.pipeline.Get(progress.ID)
	if !ok {
		t.Fatal("upload task not tracked")
	}
	if _, err := task.Result(); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if status := h.do(t, http.MethodGet, "/api/v1/uploads?id="+progress.ID, bob, nil, nil); status != http.StatusNotFound {
		t.Fatalf("expected other users not to see the upload got %d", status)
	}

	var feedResp map[string][]videoResponse
	if status := h.do(t, http.MethodGet, "/api/v1/feed?limit=5", bob, nil, &feedResp); status != http.StatusOK {
		t.Fatalf("feed: status %d", status)
	}
	videos := feedResp["videos"]
	if len(videos) != 1 || videos[0].Caption != "waves" || !strings.HasPrefix(videos[0].MediaURL, "/media/videos/") {
		t.Fatalf("unexpected feed %+v", videos)
	}

	resp, err := h.server.Client().Get(h.server.URL + videos[0].MediaURL)
	if err != nil {
		t.Fatalf("fetch media: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected media to be served got %d", resp.StatusCode)
	}

	var groupList map[string][]models.Group
	if status := h.do(t, http.MethodGet, "/api/v1/groups", bob, nil, &groupList); status != http.StatusOK || len(groupList["groups"]) != 1 {
		t.Fatalf("groups: status %d, %+v", status, groupList)
	}
}

func TestInviteFromOutsideGroupConflicts(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.signUp(t, "alice@example.com", "Alice")
	bob := h.signUp(t, "bob@example.com", "")

	var created createGroupResponse
	if status := h.do(t, http.MethodPost, "/api/v1/groups", alice, createGroupRequest{Name: "Surf"}, &created); status != http.StatusCreated {
		t.Fatalf("create group: status %d", status)
	}
	status := h.do(t, http.MethodPost, "/api/v1/groups/invite", bob, inviteRequest{GroupID: created.Group.ID, Email: "carol@example.com"}, nil)
	if status != http.StatusConflict {
		t.Fatalf("expected outsider invite to conflict got %d", status)
	}
}

func TestFeedRejectsBadLimit(t *testing.T) {
	h := newAPIHarness(t)
	token := h.signUp(t, "carol@example.com", "Carol")
	if status := h.do(t, http.MethodGet, "/api/v1/feed?limit=abc", token, nil, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", status)
	}
	var empty map[string][]videoResponse
	if status := h.do(t, http.MethodGet, "/api/v1/feed", token, nil, &empty); status != http.StatusOK || len(empty["videos"]) != 0 {
		t.Fatalf("expected empty feed got %d %+v", status, empty)
	}
}

func TestRespondErrorHidesRemoteDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(context.Background(), rec, apperr.Remote("feed", errors.New("dial tcp 10.0.0.5:5432: refused")))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Fatalf("remote detail leaked: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	respondError(context.Background(), rec, apperr.Validation("groups", "group name is required"))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "group name is required") {
		t.Fatalf("unexpected validation response %d %s", rec.Code, rec.Body.String())
	}
}
