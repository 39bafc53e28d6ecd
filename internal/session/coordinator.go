// Package session keeps one client state store per signed-in user and drives
// its loads from identity events.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/glimpse/backend/internal/apperr"
	"github.com/glimpse/backend/internal/auth"
	"github.com/glimpse/backend/internal/invitations"
	"github.com/glimpse/backend/internal/logging"
	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/state"
)

// EventSource publishes identity events.
type EventSource interface {
	Subscribe(buffer int) (<-chan auth.Event, func())
}

// GroupLoader resolves the groups a user belongs to.
type GroupLoader interface {
	Groups(ctx context.Context, userID string) ([]models.Group, error)
}

// FeedLoader builds a user's feed.
type FeedLoader interface {
	FeedForUser(ctx context.Context, userID string, limit int) ([]models.Video, error)
}

// InvitationService lists and answers invitations.
type InvitationService interface {
	Get(ctx context.Context, invitationID string) (models.Invitation, error)
	ListPending(ctx context.Context, email string) ([]models.PendingInvitation, error)
	Respond(ctx context.Context, invitationID string, accept bool, userID string) (invitations.Response, error)
}

// UserFinder loads the profile of a user whose session predates this process.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (models.User, error)
}

// Coordinator owns the per-user state stores.
type Coordinator struct {
	events      EventSource
	groups      GroupLoader
	feed        FeedLoader
	invitations InvitationService
	users       UserFinder
	feedLimit   int

	mu     sync.Mutex
	stores map[string]*state.Store
	loads  sync.WaitGroup
}

// NewCoordinator constructs a Coordinator. feedLimit is passed to the feed
// loader on sign-in; a negative value selects its default.
func NewCoordinator(events EventSource, groups GroupLoader, feed FeedLoader, invitations InvitationService, users UserFinder, feedLimit int) *Coordinator {
	return &Coordinator{
		events:      events,
		groups:      groups,
		feed:        feed,
		invitations: invitations,
		users:       users,
		feedLimit:   feedLimit,
		stores:      make(map[string]*state.Store),
	}
}

// Run consumes identity events until ctx is done. A sign-in creates the
// user's store and loads groups, feed and invitations in the background; a
// sign-out resets and drops it.
func (c *Coordinator) Run(ctx context.Context) error {
	events, unsubscribe := c.events.Subscribe(64)
	defer unsubscribe()
	defer c.loads.Wait()

	logger := logging.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			switch event.Kind {
			case auth.EventSignedIn:
				logger.Debug("session started", slog.String("user_id", event.UserID))
				store := c.open(state.Profile{
					UserID:      event.UserID,
					Email:       event.Email,
					DisplayName: event.DisplayName,
					AvatarURL:   event.AvatarURL,
				})
				c.loads.Add(1)
				go func() {
					defer c.loads.Done()
					c.loadAll(ctx, event.UserID, store)
				}()
			case auth.EventSignedOut:
				logger.Debug("session ended", slog.String("user_id", event.UserID))
				c.close(event.UserID)
			}
		}
	}
}

func (c *Coordinator) open(profile state.Profile) *state.Store {
	store := state.NewStore()
	store.Dispatch(state.SignedIn{User: profile})

	c.mu.Lock()
	defer c.mu.Unlock()
	if previous, ok := c.stores[profile.UserID]; ok {
		previous.Dispatch(state.SignedOut{})
	}
	c.stores[profile.UserID] = store
	return store
}

func (c *Coordinator) close(userID string) {
	c.mu.Lock()
	store, ok := c.stores[userID]
	delete(c.stores, userID)
	c.mu.Unlock()
	if ok {
		store.Dispatch(state.SignedOut{})
	}
}

func (c *Coordinator) loadAll(ctx context.Context, userID string, store *state.Store) {
	logger := logging.FromContext(ctx).With(slog.String("user_id", userID))
	if _, err := c.refreshGroups(ctx, userID, store); err != nil {
		logger.Warn("initial groups load failed", slog.Any("error", err))
	}
	if _, err := c.refreshFeed(ctx, userID, store, c.feedLimit); err != nil {
		logger.Warn("initial feed load failed", slog.Any("error", err))
	}
	if _, err := c.refreshInvitations(ctx, store); err != nil {
		logger.Warn("initial invitations load failed", slog.Any("error", err))
	}
}

// storeFor returns the user's store, creating it from the stored profile for
// sessions issued before this process started.
func (c *Coordinator) storeFor(ctx context.Context, userID string) (*state.Store, error) {
	c.mu.Lock()
	store, ok := c.stores[userID]
	c.mu.Unlock()
	if ok {
		return store, nil
	}

	user, err := c.users.FindByID(ctx, userID)
	if err != nil {
		return nil, apperr.FromStore("session.store", err)
	}
	store = state.NewStore()
	store.Dispatch(state.SignedIn{User: state.Profile{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
	}})

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.stores[userID]; ok {
		return existing, nil
	}
	c.stores[userID] = store
	return store, nil
}

// Snapshot returns the user's current state.
func (c *Coordinator) Snapshot(ctx context.Context, userID string) (state.State, error) {
	store, err := c.storeFor(ctx, userID)
	if err != nil {
		return state.State{}, err
	}
	return store.Snapshot(), nil
}

// Subscribe streams the user's state until ctx is done.
func (c *Coordinator) Subscribe(ctx context.Context, userID string) (<-chan state.State, error) {
	store, err := c.storeFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return store.Subscribe(ctx), nil
}

// RefreshGroups reloads the groups slice. On failure the slice keeps its
// previous items and the error is returned.
func (c *Coordinator) RefreshGroups(ctx context.Context, userID string) (state.State, error) {
	store, err := c.storeFor(ctx, userID)
	if err != nil {
		return state.State{}, err
	}
	return c.refreshGroups(ctx, userID, store)
}

func (c *Coordinator) refreshGroups(ctx context.Context, userID string, store *state.Store) (state.State, error) {
	store.Dispatch(state.GroupsRequested{})
	groups, err := c.groups.Groups(ctx, userID)
	if err != nil {
		return store.Dispatch(state.GroupsFailed{Err: err}), err
	}
	return store.Dispatch(state.GroupsLoaded{Groups: groups}), nil
}

// RefreshFeed reloads the videos slice.
func (c *Coordinator) RefreshFeed(ctx context.Context, userID string, limit int) (state.State, error) {
	store, err := c.storeFor(ctx, userID)
	if err != nil {
		return state.State{}, err
	}
	return c.refreshFeed(ctx, userID, store, limit)
}

func (c *Coordinator) refreshFeed(ctx context.Context, userID string, store *state.Store, limit int) (state.State, error) {
	store.Dispatch(state.FeedRequested{})
	videos, err := c.feed.FeedForUser(ctx, userID, limit)
	if err != nil {
		return store.Dispatch(state.FeedFailed{Err: err}), err
	}
	return store.Dispatch(state.FeedLoaded{Videos: videos}), nil
}

// RefreshInvitations reloads the invitations addressed to the user's email.
func (c *Coordinator) RefreshInvitations(ctx context.Context, userID string) (state.State, error) {
	store, err := c.storeFor(ctx, userID)
	if err != nil {
		return state.State{}, err
	}
	return c.refreshInvitations(ctx, store)
}

func (c *Coordinator) refreshInvitations(ctx context.Context, store *state.Store) (state.State, error) {
	current := store.Snapshot()
	if current.Auth.User == nil {
		return current, apperr.Validation("session.refresh_invitations", "no signed-in user")
	}
	store.Dispatch(state.InvitationsRequested{})
	pending, err := c.invitations.ListPending(ctx, current.Auth.User.Email)
	if err != nil {
		return store.Dispatch(state.InvitationsFailed{Err: err}), err
	}
	return store.Dispatch(state.InvitationsLoaded{Invitations: pending}), nil
}

// RespondToInvitation answers an invitation addressed to the user's email.
// An invitation for another address is reported as not found. On accept
// the joined group is refreshed in the user's state.
func (c *Coordinator) RespondToInvitation(ctx context.Context, userID, invitationID string, accept bool) (invitations.Response, error) {
	const op = "session.respond_to_invitation"
	store, err := c.storeFor(ctx, userID)
	if err != nil {
		return invitations.Response{}, err
	}
	profile := store.Snapshot().Auth.User
	if profile == nil {
		return invitations.Response{}, apperr.Validation(op, "no signed-in user")
	}

	invitation, err := c.invitations.Get(ctx, invitationID)
	if err != nil {
		return invitations.Response{}, err
	}
	if models.NormalizeEmail(invitation.Email) != models.NormalizeEmail(profile.Email) {
		return invitations.Response{}, apperr.NotFound(op, "invitation %s not found", invitationID)
	}

	resp, err := c.invitations.Respond(ctx, invitationID, accept, userID)
	if err != nil {
		store.Dispatch(state.InvitationRespondFailed{
			ID:      invitationID,
			Err:     err,
			Settled: c.settled(ctx, invitationID),
		})
		return invitations.Response{}, err
	}

	store.Dispatch(state.InvitationResolved{ID: invitationID})
	if resp.Group != nil {
		store.Dispatch(state.GroupUpdated{Group: *resp.Group})
	}
	return resp, nil
}

// settled reports whether the stored invitation has left the pending state,
// either by a terminal status or by being gone.
func (c *Coordinator) settled(ctx context.Context, invitationID string) bool {
	current, err := c.invitations.Get(ctx, invitationID)
	if err != nil {
		return apperr.Is(err, apperr.KindNotFound)
	}
	return current.Status.Terminal()
}
