package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glimpse/backend/internal/apperr"
	"github.com/glimpse/backend/internal/memstore"
	"github.com/glimpse/backend/internal/membership"
	"github.com/glimpse/backend/internal/models"
)

type staticGroups map[string][]string

func (s staticGroups) GroupIDs(_ context.Context, userID string) ([]string, error) {
	return s[userID], nil
}

type fakeVideos struct {
	byGroup map[string][]models.Video
	failOn  string
	calls   atomic.Int32

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (f *fakeVideos) ListForGroup(ctx context.Context, groupID string, limit int) ([]models.Video, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	time.Sleep(time.Millisecond)
	if groupID == f.failOn {
		return nil, errors.New("store unavailable")
	}
	videos := f.byGroup[groupID]
	if len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func video(id string, minutes int, groups ...string) models.Video {
	return models.Video{ID: id, GroupIDs: groups, CreatedAt: base.Add(time.Duration(minutes) * time.Minute)}
}

func ids(videos []models.Video) []string {
	out := make([]string, len(videos))
	for i, v := range videos {
		out[i] = v.ID
	}
	return out
}

func TestFeedMergesDedupesAndSorts(t *testing.T) {
	shared := video("shared", 5, "g1", "g2")
	videos := &fakeVideos{byGroup: map[string][]models.Video{
		"g1": {shared, video("a", 3, "g1")},
		"g2": {video("b", 9, "g2"), shared, video("c", 1, "g2")},
	}}
	agg := NewAggregator(staticGroups{"u": {"g1", "g2"}}, videos, Options{}, nil)

	feed, err := agg.FeedForUser(context.Background(), "u", 10)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	got := fmt.Sprint(ids(feed))
	if got != "[b shared a c]" {
		t.Fatalf("unexpected feed order %s", got)
	}
}

func TestFeedTruncatesToLimit(t *testing.T) {
	videos := &fakeVideos{byGroup: map[string][]models.Video{
		"g1": {video("a", 4, "g1"), video("b", 2, "g1")},
		"g2": {video("c", 3, "g2"), video("d", 1, "g2")},
	}}
	agg := NewAggregator(staticGroups{"u": {"g1", "g2"}}, videos, Options{}, nil)

	feed, err := agg.FeedForUser(context.Background(), "u", 3)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if fmt.Sprint(ids(feed)) != "[a c b]" {
		t.Fatalf("unexpected feed %v", ids(feed))
	}
}

func TestFeedEmptyWithoutGroups(t *testing.T) {
	videos := &fakeVideos{}
	agg := NewAggregator(staticGroups{}, videos, Options{}, nil)

	feed, err := agg.FeedForUser(context.Background(), "loner", 10)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if feed == nil || len(feed) != 0 {
		t.Fatalf("expected empty non-nil feed got %#v", feed)
	}
	if videos.calls.Load() != 0 {
		t.Fatalf("expected no video queries got %d", videos.calls.Load())
	}
}

func TestFeedLimitSemantics(t *testing.T) {
	agg := NewAggregator(staticGroups{}, &fakeVideos{}, Options{DefaultLimit: 20, MaxLimit: 100}, nil)
	cases := map[int]int{-1: 20, 0: 0, 7: 7, 500: 100}
	for requested, want := range cases {
		if got := agg.Limit(requested); got != want {
			t.Fatalf("limit(%d): expected %d got %d", requested, want, got)
		}
	}

	videos := &fakeVideos{byGroup: map[string][]models.Video{"g1": {video("a", 1, "g1")}}}
	agg = NewAggregator(staticGroups{"u": {"g1"}}, videos, Options{}, nil)
	feed, err := agg.FeedForUser(context.Background(), "u", 0)
	if err != nil || len(feed) != 0 || videos.calls.Load() != 0 {
		t.Fatalf("expected zero limit to short-circuit got %v %v %d", feed, err, videos.calls.Load())
	}
}

func TestFeedFailsWholeCallOnGroupError(t *testing.T) {
	videos := &fakeVideos{
		byGroup: map[string][]models.Video{"g1": {video("a", 1, "g1")}},
		failOn:  "g2",
	}
	agg := NewAggregator(staticGroups{"u": {"g1", "g2", "g3"}}, videos, Options{}, nil)

	feed, err := agg.FeedForUser(context.Background(), "u", 10)
	if err == nil {
		t.Fatalf("expected error got feed %v", ids(feed))
	}
	if apperr.KindOf(err) != apperr.KindRemote {
		t.Fatalf("expected remote failure got %v", err)
	}
}

func TestFeedBoundsConcurrency(t *testing.T) {
	groups := make([]string, 12)
	byGroup := make(map[string][]models.Video)
	for i := range groups {
		groups[i] = fmt.Sprintf("g%d", i)
		byGroup[groups[i]] = []models.Video{video(fmt.Sprintf("v%d", i), i, groups[i])}
	}
	videos := &fakeVideos{byGroup: byGroup}
	agg := NewAggregator(staticGroups{"u": groups}, videos, Options{Concurrency: 3}, nil)

	feed, err := agg.FeedForUser(context.Background(), "u", 50)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 12 || feed[0].ID != "v11" {
		t.Fatalf("unexpected feed %v", ids(feed))
	}
	if videos.peak > 3 {
		t.Fatalf("expected at most 3 concurrent queries got %d", videos.peak)
	}
}

func TestFeedOverMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	now := base
	for _, g := range []string{"g1", "g2"} {
		err := store.Groups.Create(ctx, models.Group{
			ID: g, Name: g, CreatedBy: "alice", CreatedAt: now,
			Members: map[string]models.Membership{"alice": {Role: models.RoleAdmin, JoinedAt: now}},
		})
		if err != nil {
			t.Fatalf("create group: %v", err)
		}
	}
	for _, v := range []models.Video{video("x", 1, "g1", "g2"), video("y", 2, "g2"), video("z", 3, "g3")} {
		if err := store.Videos.Create(ctx, v); err != nil {
			t.Fatalf("create video: %v", err)
		}
	}

	agg := NewAggregator(membership.NewResolver(store.Groups), store.Videos, Options{}, nil)
	feed, err := agg.FeedForUser(ctx, "alice", -1)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if fmt.Sprint(ids(feed)) != "[y x]" {
		t.Fatalf("unexpected feed %v", ids(feed))
	}
}
