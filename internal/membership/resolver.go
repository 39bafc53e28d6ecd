// Package membership answers which groups a user belongs to.
package membership

import (
	"context"
	"strings"

	"github.com/glimpse/backend/internal/apperr"
	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/repositories"
)

// GroupStore is the slice of the group repository the resolver reads.
type GroupStore interface {
	FindByID(ctx context.Context, id string) (models.Group, error)
	ListIDsForMember(ctx context.Context, userID string) ([]string, error)
}

// Resolver resolves group membership through the membership sub-index.
type Resolver struct {
	groups GroupStore
}

// NewResolver constructs a Resolver.
func NewResolver(groups GroupStore) *Resolver {
	return &Resolver{groups: groups}
}

// GroupIDs returns the ids of every group whose membership map contains userID.
// The result is empty, not nil, when the user belongs to no group.
func (r *Resolver) GroupIDs(ctx context.Context, userID string) ([]string, error) {
	const op = "membership.group_ids"
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation(op, "user id is required")
	}
	ids, err := r.groups.ListIDsForMember(ctx, userID)
	if err != nil {
		return nil, apperr.Remote(op, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Groups loads the group records for userID. A group whose record is gone or
// no longer lists the user is skipped.
func (r *Resolver) Groups(ctx context.Context, userID string) ([]models.Group, error) {
	const op = "membership.groups"
	ids, err := r.GroupIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups := make([]models.Group, 0, len(ids))
	for _, id := range ids {
		group, err := r.groups.FindByID(ctx, id)
		if err != nil {
			if apperr.Is(apperr.FromStore(op, err), apperr.KindNotFound) {
				continue
			}
			return nil, apperr.Remote(op, err)
		}
		if !group.HasMember(userID) {
			continue
		}
		groups = append(groups, group)
	}
	return groups, nil
}

var _ GroupStore = (repositories.GroupRepository)(nil)
