package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/glimpse/backend/internal/db"
	"github.com/glimpse/backend/internal/models"
)

// PostgresInvitationRepository provides PostgreSQL-backed persistence for invitations.
type PostgresInvitationRepository struct {
	pool db.Pool
}

// NewPostgresInvitationRepository constructs an invitation repository backed by PostgreSQL.
func NewPostgresInvitationRepository(pool db.Pool) *PostgresInvitationRepository {
	return &PostgresInvitationRepository{pool: pool}
}

const invitationColumns = `id, group_id, email, inviter_id, status, message, created_at, responded_at`

// Create stores a new invitation.
func (r *PostgresInvitationRepository) Create(ctx context.Context, invitation models.Invitation) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO invitations (`+invitationColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, invitation.ID, invitation.GroupID, invitation.Email, invitation.InviterID, string(invitation.Status),
		invitation.Message, invitation.CreatedAt, invitation.RespondedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return ErrConflict
		case isForeignKeyViolation(err):
			return ErrNotFound
		}
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

// FindByID loads a single invitation.
func (r *PostgresInvitationRepository) FindByID(ctx context.Context, id string) (models.Invitation, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Invitation{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	invitation, err := scanInvitation(conn.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Invitation{}, ErrNotFound
	}
	return invitation, err
}

// ListPendingByEmail returns pending invitations addressed to email, oldest first.
func (r *PostgresInvitationRepository) ListPendingByEmail(ctx context.Context, email string) ([]models.Invitation, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+invitationColumns+`
        FROM invitations
        WHERE email = $1 AND status = 'pending'
        ORDER BY created_at, id
    `, email)
	if err != nil {
		return nil, fmt.Errorf("query invitations: %w", err)
	}
	defer rows.Close()

	invitations := []models.Invitation{}
	for rows.Next() {
		invitation, err := scanInvitation(rows)
		if errors.Is(err, ErrMalformed) {
			Quarantine(ctx, "invitation", invitation.ID, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, invitation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return invitations, nil
}

func scanInvitation(row pgx.Row) (models.Invitation, error) {
	var (
		invitation  models.Invitation
		status      string
		respondedAt sql.NullTime
	)
	if err := row.Scan(&invitation.ID, &invitation.GroupID, &invitation.Email, &invitation.InviterID, &status,
		&invitation.Message, &invitation.CreatedAt, &respondedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Invitation{}, err
		}
		return models.Invitation{}, fmt.Errorf("scan invitation: %w", err)
	}
	invitation.Status = models.InvitationStatus(status)
	if respondedAt.Valid {
		t := respondedAt.Time.UTC()
		invitation.RespondedAt = &t
	}
	if err := invitation.Validate(); err != nil {
		return models.Invitation{ID: invitation.ID}, fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	return invitation, nil
}

// Decline moves a pending invitation to declined.
func (r *PostgresInvitationRepository) Decline(ctx context.Context, id string, at time.Time) (models.Invitation, error) {
	var invitation models.Invitation
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := lockInvitation(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
            UPDATE invitations SET status = 'declined', responded_at = $2
            WHERE id = $1 AND status = 'pending'
        `, id, at); err != nil {
			return fmt.Errorf("update invitation: %w", err)
		}
		current.Status = models.InvitationDeclined
		current.RespondedAt = &at
		invitation = current
		return nil
	})
	return invitation, err
}

// Accept marks the invitation accepted and adds userID to the group. The
// invitation update, the membership map and the sub-index row commit together.
func (r *PostgresInvitationRepository) Accept(ctx context.Context, id, userID string, at time.Time) (models.Invitation, models.Group, error) {
	var (
		invitation models.Invitation
		group      models.Group
	)
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := lockInvitation(ctx, tx, id)
		if err != nil {
			return err
		}

		g, err := scanGroup(tx.QueryRow(ctx, `
            SELECT id, name, description, cover_image, created_by, created_at, last_activity_at, members
            FROM user_groups
            WHERE id = $1
            FOR UPDATE
        `, current.GroupID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("invitation %s: %w", id, ErrGroupNotFound)
			}
			return err
		}

		membership, exists := g.Members[userID]
		if !exists {
			membership = models.Membership{Role: models.RoleMember, JoinedAt: at}
			g.Members[userID] = membership
			encoded, err := json.Marshal(g.Members)
			if err != nil {
				return fmt.Errorf("encode members: %w", err)
			}
			if _, err := tx.Exec(ctx, `UPDATE user_groups SET members = $2 WHERE id = $1`, g.ID, string(encoded)); err != nil {
				return fmt.Errorf("update group members: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, `
            INSERT INTO group_members (group_id, user_id, role, joined_at)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (group_id, user_id) DO NOTHING
        `, g.ID, userID, membership.Role, membership.JoinedAt); err != nil {
			return fmt.Errorf("insert group member: %w", err)
		}

		if _, err := tx.Exec(ctx, `
            UPDATE invitations SET status = 'accepted', responded_at = $2
            WHERE id = $1 AND status = 'pending'
        `, id, at); err != nil {
			return fmt.Errorf("update invitation: %w", err)
		}

		current.Status = models.InvitationAccepted
		current.RespondedAt = &at
		invitation, group = current, g
		return nil
	})
	if err != nil {
		return models.Invitation{}, models.Group{}, err
	}
	return invitation, group, nil
}

// MarkFailed records a failed acceptance on a pending invitation.
func (r *PostgresInvitationRepository) MarkFailed(ctx context.Context, id, message string, at time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE invitations SET status = 'error', message = $2, responded_at = $3
        WHERE id = $1 AND status = 'pending'
    `, id, message, at)
	if err != nil {
		return fmt.Errorf("mark invitation failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// lockInvitation selects the invitation FOR UPDATE and checks it is pending.
func lockInvitation(ctx context.Context, tx pgx.Tx, id string) (models.Invitation, error) {
	invitation, err := scanInvitation(tx.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Invitation{}, fmt.Errorf("invitation %s: %w", id, ErrNotFound)
		}
		return models.Invitation{}, err
	}
	if invitation.Status != models.InvitationPending {
		return models.Invitation{}, fmt.Errorf("invitation %s is %s: %w", id, invitation.Status, ErrConflict)
	}
	return invitation, nil
}

var _ InvitationRepository = (*PostgresInvitationRepository)(nil)
