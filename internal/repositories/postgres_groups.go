package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/glimpse/backend/internal/db"
	"github.com/glimpse/backend/internal/models"
)

// PostgresGroupRepository stores groups in user_groups and mirrors the
// membership map into the group_members sub-index.
type PostgresGroupRepository struct {
	pool db.Pool
}

// NewPostgresGroupRepository constructs a group repository backed by PostgreSQL.
func NewPostgresGroupRepository(pool db.Pool) *PostgresGroupRepository {
	return &PostgresGroupRepository{pool: pool}
}

// Create persists the group and its membership rows in one transaction.
func (r *PostgresGroupRepository) Create(ctx context.Context, group models.Group) error {
	members, err := json.Marshal(group.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}

	err = inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
            INSERT INTO user_groups (id, name, description, cover_image, created_by, created_at, last_activity_at, members)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        `, group.ID, group.Name, group.Description, group.CoverImage, group.CreatedBy, group.CreatedAt, group.LastActivityAt, string(members)); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for userID, m := range group.Members {
			batch.Queue(`
                INSERT INTO group_members (group_id, user_id, role, joined_at)
                VALUES ($1, $2, $3, $4)
            `, group.ID, userID, m.Role, m.JoinedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

// FindByID loads a group and validates the stored membership map.
func (r *PostgresGroupRepository) FindByID(ctx context.Context, id string) (models.Group, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Group{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	group, err := scanGroup(conn.QueryRow(ctx, `
        SELECT id, name, description, cover_image, created_by, created_at, last_activity_at, members
        FROM user_groups
        WHERE id = $1
    `, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Group{}, ErrNotFound
		}
		return models.Group{}, err
	}
	return group, nil
}

func scanGroup(row pgx.Row) (models.Group, error) {
	var (
		group   models.Group
		members []byte
	)
	if err := row.Scan(&group.ID, &group.Name, &group.Description, &group.CoverImage, &group.CreatedBy, &group.CreatedAt, &group.LastActivityAt, &members); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Group{}, err
		}
		return models.Group{}, fmt.Errorf("select group: %w", err)
	}
	if err := json.Unmarshal(members, &group.Members); err != nil {
		return models.Group{}, fmt.Errorf("group %s: decode members: %w", group.ID, ErrMalformed)
	}
	if err := group.Validate(); err != nil {
		return models.Group{}, fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	return group, nil
}

// ListIDsForMember queries the sub-index for the user's groups.
func (r *PostgresGroupRepository) ListIDsForMember(ctx context.Context, userID string) ([]string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT group_id
        FROM group_members
        WHERE user_id = $1
        ORDER BY joined_at, group_id
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return ids, nil
}

// TouchActivity bumps last_activity_at without moving it backwards.
func (r *PostgresGroupRepository) TouchActivity(ctx context.Context, groupIDs []string, at time.Time) error {
	if len(groupIDs) == 0 {
		return nil
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `
        UPDATE user_groups
        SET last_activity_at = $2
        WHERE id = ANY($1) AND last_activity_at < $2
    `, groupIDs, at); err != nil {
		return fmt.Errorf("touch group activity: %w", err)
	}
	return nil
}

var _ GroupRepository = (*PostgresGroupRepository)(nil)
