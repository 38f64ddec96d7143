package invites

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/dbx"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectInvite = `SELECT id, inviter_id, contact, status, expires_at, accepted_by, created_at FROM invites`

type scanner interface {
	Scan(dest ...any) error
}

func scanInvite(row scanner) (*models.Invite, error) {
	inv := &models.Invite{}
	var status string
	if err := row.Scan(&inv.ID, &inv.InviterID, &inv.Contact, &status,
		&inv.ExpiresAt, &inv.AcceptedBy, &inv.CreatedAt); err != nil {
		return nil, err
	}
	inv.Status = models.InviteStatus(status)
	return inv, nil
}

func (r *PostgresRepository) Create(ctx context.Context, inv *models.Invite) (*models.Invite, error) {
	query :=
		`INSERT INTO invites (inviter_id, contact, expires_at)
		 VALUES ($1, $2, $3)
		 RETURNING id, status, created_at`

	var status string
	err := r.db.QueryRowContext(ctx, query, inv.InviterID, inv.Contact, inv.ExpiresAt).
		Scan(&inv.ID, &status, &inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	inv.Status = models.InviteStatus(status)
	return inv, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Invite, error) {
	return r.get(ctx, selectInvite+` WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Invite, error) {
	return r.get(ctx, selectInvite+` WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*models.Invite, error) {
	inv, err := scanInvite(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return inv, nil
}

func (r *PostgresRepository) ListByInviter(ctx context.Context, inviterID string) ([]*models.Invite, error) {
	rows, err := r.db.QueryContext(ctx, selectInvite+` WHERE inviter_id = $1 ORDER BY created_at`, inviterID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	defer rows.Close()

	var result []*models.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) MarkAccepted(ctx context.Context, id, accountID string) error {
	return r.transition(ctx,
		`UPDATE invites SET status = 'accepted', accepted_by = $2 WHERE id = $1 AND status = 'pending'`,
		id, accountID)
}

func (r *PostgresRepository) Expire(ctx context.Context, id string) error {
	return r.transition(ctx,
		`UPDATE invites SET status = 'expired' WHERE id = $1 AND status = 'pending'`, id)
}

func (r *PostgresRepository) transition(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n != 1 {
		return common.ErrStateConflict
	}
	return nil
}

func (r *PostgresRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE invites SET status = 'expired' WHERE status = 'pending' AND expires_at <= $1 RETURNING id`, now)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ids, nil
}
