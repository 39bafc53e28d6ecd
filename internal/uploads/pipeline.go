// Package uploads runs video uploads on a bounded worker pool. Each upload is
// a Task the caller can watch, wait on or cancel.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glimpse/backend/internal/apperr"
	"github.com/glimpse/backend/internal/metrics"
	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/storage"
)

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("upload pipeline closed")

// GroupStore is the slice of the group repository uploads need.
type GroupStore interface {
	FindByID(ctx context.Context, id string) (models.Group, error)
	TouchActivity(ctx context.Context, groupIDs []string, at time.Time) error
}

// VideoCreator persists finished videos.
type VideoCreator interface {
	Create(ctx context.Context, video models.Video) error
}

// Prober inspects spooled clips. Both calls are best effort.
type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
	Thumbnail(ctx context.Context, path, out string, clip time.Duration) error
}

// Config sizes the pool and bounds uploads.
type Config struct {
	Workers     int
	QueueSize   int
	MaxBytes    int64
	SpoolDir    string
	MaxDuration time.Duration
	// Retention is how long finished tasks stay visible to Get.
	Retention time.Duration
}

// Request describes one upload.
type Request struct {
	CreatorID   string
	GroupIDs    []string
	Caption     string
	ContentType string
	Body        io.Reader
}

// Pipeline accepts uploads and processes them in the background.
type Pipeline struct {
	groups  GroupStore
	videos  VideoCreator
	blobs   storage.BlobStore
	probe   Prober
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	jobs   chan *Task
	quit   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	sendMu sync.RWMutex
	closed bool

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewPipeline starts cfg.Workers workers.
func NewPipeline(groups GroupStore, videos VideoCreator, blobs storage.BlobStore, probe Prober, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 200 << 20
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = models.MaxVideoDuration
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 15 * time.Minute
	}
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		groups:  groups,
		videos:  videos,
		blobs:   blobs,
		probe:   probe,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		jobs:    make(chan *Task, cfg.QueueSize),
		quit:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*Task),
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

// Submit checks that the creator may post into every target group, spools
// the body to disk and queues the task.
func (p *Pipeline) Submit(ctx context.Context, req Request) (*Task, error) {
	const op = "uploads.submit"
	if strings.TrimSpace(req.CreatorID) == "" {
		return nil, apperr.Validation(op, "creator id is required")
	}
	if req.Body == nil {
		return nil, apperr.Validation(op, "upload body is required")
	}
	req.GroupIDs = distinct(req.GroupIDs)
	if len(req.GroupIDs) == 0 {
		return nil, apperr.Validation(op, "at least one group is required")
	}
	for _, groupID := range req.GroupIDs {
		group, err := p.groups.FindByID(ctx, groupID)
		if err != nil {
			return nil, apperr.FromStore(op, err)
		}
		if !group.HasMember(req.CreatorID) {
			return nil, apperr.Validation(op, "user %s is not a member of group %s", req.CreatorID, groupID)
		}
	}

	id := uuid.NewString()
	spool, size, err := p.spool(ctx, id, req.Body)
	if err != nil {
		return nil, err
	}
	task := newTask(p.ctx, id, req, spool, size)

	if err := p.enqueue(ctx, task); err != nil {
		os.Remove(spool)
		return nil, err
	}
	return task, nil
}

func (p *Pipeline) enqueue(ctx context.Context, task *Task) error {
	p.mu.Lock()
	p.pruneLocked()
	p.tasks[task.id] = task
	p.mu.Unlock()

	if err := p.send(ctx, task); err != nil {
		p.mu.Lock()
		delete(p.tasks, task.id)
		p.mu.Unlock()
		return err
	}
	return nil
}

// send blocks until a worker slot frees up. sendMu keeps Shutdown from
// closing jobs under a pending send; closing quit first releases it.
func (p *Pipeline) send(ctx context.Context, task *Task) error {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- task:
		return nil
	case <-p.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pruneLocked drops finished tasks older than the retention window.
func (p *Pipeline) pruneLocked() {
	cutoff := p.now().Add(-p.cfg.Retention)
	for id, task := range p.tasks {
		select {
		case <-task.done:
			if task.finishedTime().Before(cutoff) {
				delete(p.tasks, id)
			}
		default:
		}
	}
}

// Get returns a task submitted to this pipeline.
func (p *Pipeline) Get(id string) (*Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	task, ok := p.tasks[id]
	return task, ok
}

func (p *Pipeline) spool(ctx context.Context, id string, body io.Reader) (string, int64, error) {
	const op = "uploads.spool"
	if err := os.MkdirAll(p.cfg.SpoolDir, 0o755); err != nil {
		return "", 0, apperr.Remote(op, err)
	}
	path := filepath.Join(p.cfg.SpoolDir, "glimpse-upload-"+id)
	file, err := os.Create(path)
	if err != nil {
		return "", 0, apperr.Remote(op, err)
	}

	size, copyErr := io.Copy(file, io.LimitReader(&ctxReader{ctx: ctx, r: body}, p.cfg.MaxBytes+1))
	closeErr := file.Close()
	switch {
	case copyErr != nil:
		os.Remove(path)
		return "", 0, apperr.Remote(op, fmt.Errorf("read upload body: %w", copyErr))
	case closeErr != nil:
		os.Remove(path)
		return "", 0, apperr.Remote(op, closeErr)
	case size == 0:
		os.Remove(path)
		return "", 0, apperr.Validation(op, "upload body is empty")
	case size > p.cfg.MaxBytes:
		os.Remove(path)
		return "", 0, apperr.Validation(op, "upload exceeds %d bytes", p.cfg.MaxBytes)
	}
	return path, size, nil
}

// Shutdown stops accepting uploads and waits for queued tasks to finish.
// When ctx ends first, in-flight tasks are canceled.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		close(p.quit)
		p.sendMu.Lock()
		p.closed = true
		close(p.jobs)
		p.sendMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for task := range p.jobs {
		p.run(task)
	}
}

func (p *Pipeline) run(task *Task) {
	logger := p.logger.With(slog.String("upload_id", task.id), slog.String("creator_id", task.creatorID))
	defer os.Remove(task.spool)

	video, err := p.process(task, logger)
	state := StateCompleted
	switch {
	case err == nil:
	case task.ctx.Err() != nil:
		state, err = StateCanceled, fmt.Errorf("upload %s canceled: %w", task.id, context.Canceled)
	default:
		state = StateFailed
	}
	if err != nil {
		logger.Warn("upload finished without a video", slog.String("state", string(state)), slog.Any("error", err))
	} else {
		logger.Info("upload completed", slog.String("video_id", video.ID))
	}

	p.metrics.UploadFinished(string(state), task.Snapshot().BytesUploaded)
	task.finish(state, video, err, p.now())
}

func (p *Pipeline) process(task *Task, logger *slog.Logger) (models.Video, error) {
	const op = "uploads.process"
	ctx := task.ctx
	if err := ctx.Err(); err != nil {
		return models.Video{}, err
	}
	task.update(func(pr *Progress) { pr.State = StateUploading })

	var clip time.Duration
	if p.probe != nil {
		d, err := p.probe.Duration(ctx, task.spool)
		switch {
		case err != nil:
			logger.Warn("probe duration", slog.Any("error", err))
		case d > p.cfg.MaxDuration:
			return models.Video{}, apperr.Validation(op, "video is %s long, the limit is %s", d.Round(time.Second), p.cfg.MaxDuration)
		default:
			clip = d
		}
	}

	videoID := uuid.NewString()
	prefix := "videos/" + videoID + "/"

	mediaRef, err := p.putSpooled(ctx, task, prefix+"media"+extension(task.req.ContentType), task.req.ContentType)
	if err != nil {
		return models.Video{}, apperr.Remote(op, err)
	}
	thumbRef := p.thumbnail(ctx, task, prefix+"thumbnail.jpg", clip, logger)

	if err := ctx.Err(); err != nil {
		return models.Video{}, err
	}
	now := p.now().UTC()
	video := models.Video{
		ID:           videoID,
		CreatorID:    task.creatorID,
		GroupIDs:     task.req.GroupIDs,
		Caption:      strings.TrimSpace(task.req.Caption),
		MediaRef:     mediaRef,
		ThumbnailRef: thumbRef,
		Duration:     clip,
		CreatedAt:    now,
		Viewers:      map[string]time.Time{},
	}
	if err := p.videos.Create(ctx, video); err != nil {
		return models.Video{}, apperr.FromStore(op, err)
	}
	if err := p.groups.TouchActivity(ctx, video.GroupIDs, now); err != nil {
		logger.Warn("bump group activity", slog.Any("error", err))
	}
	return video, nil
}

func (p *Pipeline) putSpooled(ctx context.Context, task *Task, key, contentType string) (string, error) {
	file, err := os.Open(task.spool)
	if err != nil {
		return "", err
	}
	defer file.Close()

	counter := &countingReader{r: file, onRead: func(total int64) {
		task.update(func(pr *Progress) { pr.BytesUploaded = total })
	}}
	return p.blobs.Put(ctx, key, counter, contentType)
}

func (p *Pipeline) thumbnail(ctx context.Context, task *Task, key string, clip time.Duration, logger *slog.Logger) string {
	if p.probe == nil {
		return ""
	}
	out := task.spool + ".jpg"
	defer os.Remove(out)
	if err := p.probe.Thumbnail(ctx, task.spool, out, clip); err != nil {
		logger.Warn("extract thumbnail", slog.Any("error", err))
		return ""
	}
	file, err := os.Open(out)
	if err != nil {
		logger.Warn("open thumbnail", slog.Any("error", err))
		return ""
	}
	defer file.Close()
	ref, err := p.blobs.Put(ctx, key, file, "image/jpeg")
	if err != nil {
		logger.Warn("store thumbnail", slog.Any("error", err))
		return ""
	}
	return ref
}

func extension(contentType string) string {
	switch contentType {
	case "", "application/octet-stream":
		return ""
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type countingReader struct {
	r      io.Reader
	total  int64
	onRead func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.total += int64(n)
		c.onRead(c.total)
	}
	return n, err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
