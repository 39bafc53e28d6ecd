package uploads

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/glimpse/backend/internal/apperr"
	"github.com/glimpse/backend/internal/memstore"
	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/storage"
)

type fakeProbe struct {
	duration time.Duration
	err      error
}

func (f fakeProbe) Duration(context.Context, string) (time.Duration, error) {
	return f.duration, f.err
}

func (f fakeProbe) Thumbnail(_ context.Context, _, out string, _ time.Duration) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(out, []byte("jpeg"), 0o644)
}

// gatedBlobs holds every Put until release is closed.
type gatedBlobs struct {
	storage.BlobStore
	started chan struct{}
	release chan struct{}
}

func (g *gatedBlobs) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.BlobStore.Put(ctx, key, r, contentType)
}

var created = time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)

func newTestPipeline(t *testing.T, blobs storage.BlobStore, probe Prober, cfg Config) (*Pipeline, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	err := store.Groups.Create(context.Background(), models.Group{
		ID: "g1", Name: "Crew", CreatedBy: "alice", CreatedAt: created, LastActivityAt: created,
		Members: map[string]models.Membership{"alice": {Role: models.RoleAdmin, JoinedAt: created}},
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if blobs == nil {
		local, err := storage.NewLocalStorage(t.TempDir(), "/media")
		if err != nil {
			t.Fatalf("local storage: %v", err)
		}
		blobs = local
	}
	cfg.SpoolDir = t.TempDir()
	p := NewPipeline(store.Groups, store.Videos, blobs, probe, cfg, nil, nil)
	p.now = func() time.Time { return created.Add(time.Hour) }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Shutdown(ctx)
	})
	return p, store
}

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s did not finish, last progress %+v", task.ID(), task.Snapshot())
	}
}

func TestUploadCompletes(t *testing.T) {
	p, store := newTestPipeline(t, nil, fakeProbe{duration: 12 * time.Second}, Config{})

	task, err := p.Submit(context.Background(), Request{
		CreatorID:   "alice",
		GroupIDs:    []string{"g1", "g1"},
		Caption:     " sunset ",
		ContentType: "video/mp4",
		Body:        strings.NewReader("0123456789"),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	var last Progress
	for update := range task.Progress() {
		last = update
	}
	if last.State != StateCompleted || last.BytesUploaded != 10 || last.BytesTotal != 10 {
		t.Fatalf("unexpected final progress %+v", last)
	}

	video, err := task.Result()
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if video.Caption != "sunset" || video.Duration != 12*time.Second || len(video.GroupIDs) != 1 {
		t.Fatalf("unexpected video %+v", video)
	}
	if !strings.HasSuffix(video.MediaRef, "/media.mp4") || !strings.HasSuffix(video.ThumbnailRef, "/thumbnail.jpg") {
		t.Fatalf("unexpected refs %q %q", video.MediaRef, video.ThumbnailRef)
	}

	feed, _ := store.Videos.ListForGroup(context.Background(), "g1", 10)
	if len(feed) != 1 || feed[0].ID != video.ID {
		t.Fatalf("expected video in group got %+v", feed)
	}
	group, _ := store.Groups.FindByID(context.Background(), "g1")
	if !group.LastActivityAt.Equal(created.Add(time.Hour)) {
		t.Fatalf("expected activity bump got %v", group.LastActivityAt)
	}

	if got, ok := p.Get(task.ID()); !ok || got != task {
		t.Fatal("expected finished task to stay visible")
	}
}

func TestUploadProbeFailureIsBestEffort(t *testing.T) {
	p, _ := newTestPipeline(t, nil, fakeProbe{err: errors.New("ffprobe missing")}, Config{})
	task, err := p.Submit(context.Background(), Request{CreatorID: "alice", GroupIDs: []string{"g1"}, Body: strings.NewReader("clip")})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	video, err := task.Result()
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if video.Duration != 0 || video.ThumbnailRef != "" || video.MediaRef == "" {
		t.Fatalf("unexpected video %+v", video)
	}
}

func TestUploadRejectsLongClips(t *testing.T) {
	p, store := newTestPipeline(t, nil, fakeProbe{duration: 91 * time.Second}, Config{})
	task, err := p.Submit(context.Background(), Request{CreatorID: "alice", GroupIDs: []string{"g1"}, Body: strings.NewReader("clip")})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := task.Result(); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation failure got %v", err)
	}
	if task.Snapshot().State != StateFailed {
		t.Fatalf("expected failed state got %+v", task.Snapshot())
	}
	if feed, _ := store.Videos.ListForGroup(context.Background(), "g1", 10); len(feed) != 0 {
		t.Fatalf("expected no video got %+v", feed)
	}
}

func TestSubmitValidation(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil, Config{MaxBytes: 4})
	cases := map[string]struct {
		req  Request
		kind apperr.Kind
	}{
		"non member":    {Request{CreatorID: "bob", GroupIDs: []string{"g1"}, Body: strings.NewReader("clip")}, apperr.KindValidation},
		"unknown group": {Request{CreatorID: "alice", GroupIDs: []string{"nope"}, Body: strings.NewReader("clip")}, apperr.KindNotFound},
		"no groups":     {Request{CreatorID: "alice", Body: strings.NewReader("clip")}, apperr.KindValidation},
		"too large":     {Request{CreatorID: "alice", GroupIDs: []string{"g1"}, Body: strings.NewReader("clips")}, apperr.KindValidation},
		"empty":         {Request{CreatorID: "alice", GroupIDs: []string{"g1"}, Body: strings.NewReader("")}, apperr.KindValidation},
	}
	for name, tc := range cases {
		if _, err := p.Submit(context.Background(), tc.req); apperr.KindOf(err) != tc.kind {
			t.Fatalf("%s: expected %s got %v", name, tc.kind, err)
		}
	}
}

func TestCancelQueuedAndRunningUploads(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	gate := &gatedBlobs{BlobStore: local, started: make(chan struct{}, 1), release: make(chan struct{})}
	p, _ := newTestPipeline(t, gate, nil, Config{Workers: 1})

	req := func() Request {
		return Request{CreatorID: "alice", GroupIDs: []string{"g1"}, Body: strings.NewReader("clip")}
	}
	running, err := p.Submit(context.Background(), req())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-gate.started
	queued, err := p.Submit(context.Background(), req())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	queued.Cancel()
	waitDone(t, queued)
	if queued.Snapshot().State != StateCanceled {
		t.Fatalf("expected queued task to be canceled got %+v", queued.Snapshot())
	}

	running.Cancel()
	waitDone(t, running)
	if _, err := running.Result(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled error got %v", err)
	}
	if running.Snapshot().State != StateCanceled {
		t.Fatalf("expected running task to be canceled got %+v", running.Snapshot())
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil, Config{})
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	_, err := p.Submit(context.Background(), Request{CreatorID: "alice", GroupIDs: []string{"g1"}, Body: strings.NewReader("clip")})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed got %v", err)
	}
}
