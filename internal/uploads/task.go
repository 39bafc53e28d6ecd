package uploads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glimpse/backend/internal/models"
)

// State is the lifecycle position of an upload task.
type State string

const (
	StateQueued    State = "queued"
	StateUploading State = "uploading"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Final reports whether s is a terminal state.
func (s State) Final() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// Progress is a point-in-time view of a task.
type Progress struct {
	ID            string `json:"id"`
	State         State  `json:"state"`
	BytesUploaded int64  `json:"bytesUploaded"`
	BytesTotal    int64  `json:"bytesTotal"`
	VideoID       string `json:"videoId,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Task is one submitted upload. Its progress channel carries the most recent
// updates and is closed once the task reaches a final state.
type Task struct {
	id        string
	creatorID string
	req       Request
	spool     string

	ctx    context.Context
	cancel context.CancelFunc

	progress chan Progress
	done     chan struct{}

	mu         sync.Mutex
	snapshot   Progress
	result     models.Video
	err        error
	finishedAt time.Time
}

func newTask(parent context.Context, id string, req Request, spool string, size int64) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		id:        id,
		creatorID: req.CreatorID,
		req:       req,
		spool:     spool,
		ctx:       ctx,
		cancel:    cancel,
		progress:  make(chan Progress, 8),
		done:      make(chan struct{}),
		snapshot:  Progress{ID: id, State: StateQueued, BytesTotal: size},
	}
}

// ID identifies the task.
func (t *Task) ID() string { return t.id }

// CreatorID is the user who submitted the task.
func (t *Task) CreatorID() string { return t.creatorID }

// Progress streams state and byte count updates.
func (t *Task) Progress() <-chan Progress { return t.progress }

// Done is closed when the task reaches a final state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel stops the task. A task still waiting in the queue finishes
// immediately; it has no effect once the task has finished.
func (t *Task) Cancel() {
	t.cancel()
	if t.Snapshot().State == StateQueued {
		t.finish(StateCanceled, models.Video{}, fmt.Errorf("upload %s canceled: %w", t.id, context.Canceled), time.Now())
	}
}

// Snapshot returns the latest progress.
func (t *Task) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

// Result blocks until the task finishes and returns the created video.
func (t *Task) Result() (models.Video, error) {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// update applies fn and publishes the result. Sends happen under t.mu so
// they never race the close in finish.
func (t *Task) update(fn func(*Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot.State.Final() {
		return
	}
	fn(&t.snapshot)
	t.publishLocked()
}

func (t *Task) publishLocked() {
	next := t.snapshot
	select {
	case t.progress <- next:
		return
	default:
	}
	// Drop the oldest update so the channel always ends with the newest.
	select {
	case <-t.progress:
	default:
	}
	select {
	case t.progress <- next:
	default:
	}
}

func (t *Task) finish(state State, video models.Video, err error, at time.Time) {
	t.mu.Lock()
	if t.snapshot.State.Final() {
		t.mu.Unlock()
		return
	}
	t.snapshot.State = state
	t.snapshot.VideoID = video.ID
	if err != nil {
		t.snapshot.Error = err.Error()
	}
	t.result, t.err, t.finishedAt = video, err, at
	t.publishLocked()
	close(t.progress)
	close(t.done)
	t.mu.Unlock()

	t.cancel()
}

func (t *Task) finishedTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishedAt
}
