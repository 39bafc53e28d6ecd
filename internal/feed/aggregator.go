// Package feed merges the videos of every group a user belongs to.
package feed

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/glimpse/backend/internal/apperr"
	"github.com/glimpse/backend/internal/logging"
	"github.com/glimpse/backend/internal/metrics"
	"github.com/glimpse/backend/internal/models"
)

// GroupResolver returns the groups a user belongs to.
type GroupResolver interface {
	GroupIDs(ctx context.Context, userID string) ([]string, error)
}

// VideoLister returns the newest videos of one group, newest first.
type VideoLister interface {
	ListForGroup(ctx context.Context, groupID string, limit int) ([]models.Video, error)
}

// Options bounds feed requests.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	Concurrency  int
}

func (o Options) withDefaults() Options {
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = 20
	}
	if o.MaxLimit < o.DefaultLimit {
		o.MaxLimit = o.DefaultLimit
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// Aggregator builds a user's feed from per-group queries.
type Aggregator struct {
	groups  GroupResolver
	videos  VideoLister
	opts    Options
	metrics *metrics.Metrics
}

// NewAggregator constructs an Aggregator. m may be nil.
func NewAggregator(groups GroupResolver, videos VideoLister, opts Options, m *metrics.Metrics) *Aggregator {
	return &Aggregator{groups: groups, videos: videos, opts: opts.withDefaults(), metrics: m}
}

// Limit normalises a requested feed size: negative selects the default and
// values above the maximum are clamped.
func (a *Aggregator) Limit(requested int) int {
	switch {
	case requested < 0:
		return a.opts.DefaultLimit
	case requested > a.opts.MaxLimit:
		return a.opts.MaxLimit
	default:
		return requested
	}
}

// FeedForUser returns at most limit videos shared into the user's groups,
// newest first and without duplicates. Any failed group query fails the
// whole call.
func (a *Aggregator) FeedForUser(ctx context.Context, userID string, limit int) (feed []models.Video, err error) {
	const op = "feed.for_user"
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation(op, "user id is required")
	}
	limit = a.Limit(limit)

	ctx, span := logging.StartSpan(ctx, "feed.aggregate", slog.String("user_id", userID), slog.Int("limit", limit))
	queries := 0
	defer func() {
		a.metrics.ObserveFeed(span.Elapsed(), queries, err)
		span.EndErr(err)
	}()

	if limit == 0 {
		return []models.Video{}, nil
	}

	groupIDs, err := a.groups.GroupIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(groupIDs) == 0 {
		return []models.Video{}, nil
	}

	perGroup := make([][]models.Video, len(groupIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, groupID := range groupIDs {
		queries++
		i, groupID := i, groupID
		g.Go(func() error {
			videos, err := a.videos.ListForGroup(gctx, groupID, limit)
			if err != nil {
				return apperr.Remote(op, err)
			}
			perGroup[i] = videos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return merge(perGroup, limit), nil
}

// merge flattens per-group results in group order, drops repeated video ids,
// sorts newest first and truncates. The sort is stable, so equal timestamps
// keep their first-seen order.
func merge(perGroup [][]models.Video, limit int) []models.Video {
	total := 0
	for _, videos := range perGroup {
		total += len(videos)
	}
	seen := make(map[string]struct{}, total)
	merged := make([]models.Video, 0, total)
	for _, videos := range perGroup {
		for _, video := range videos {
			if _, dup := seen[video.ID]; dup {
				continue
			}
			seen[video.ID] = struct{}{}
			merged = append(merged, video)
		}
	}
	slices.SortStableFunc(merged, func(x, y models.Video) int {
		return y.CreatedAt.Compare(x.CreatedAt)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
