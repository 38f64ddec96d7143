package handshakes

import (
	"context"
	"database/sql"
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

const selectHandshake = `SELECT id, account_id, server_secret, client_public, session_key,
		session_wrapper, created_at, completed_at
	 FROM handshakes WHERE id = $1`

func (r *PostgresRepository) Create(ctx context.Context, h *models.Handshake) (*models.Handshake, error) {
	query :=
		`INSERT INTO handshakes (account_id, server_secret, client_public, session_wrapper)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		h.AccountID, h.ServerSecret, h.ClientPublic, h.SessionWrapper).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return h, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Handshake, error) {
	return r.get(ctx, selectHandshake, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Handshake, error) {
	return r.get(ctx, selectHandshake+` FOR UPDATE`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*models.Handshake, error) {
	h := &models.Handshake{}
	var completedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&h.ID, &h.AccountID, &h.ServerSecret, &h.ClientPublic, &h.SessionKey,
		&h.SessionWrapper, &h.CreatedAt, &completedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	if completedAt.Valid {
		h.CompletedAt = &completedAt.Time
	}
	return h, nil
}

func (r *PostgresRepository) Complete(ctx context.Context, id string, sessionKey []byte) error {
	query :=
		`UPDATE handshakes SET session_key = $2, completed_at = now()
		 WHERE id = $1 AND session_key IS NULL`

	res, err := r.db.ExecContext(ctx, query, id, sessionKey)
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

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	n, err := r.exec(ctx, `DELETE FROM handshakes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteIncomplete(ctx context.Context, accountID string) (int64, error) {
	return r.exec(ctx, `DELETE FROM handshakes WHERE account_id = $1 AND session_key IS NULL`, accountID)
}

func (r *PostgresRepository) DeleteOthers(ctx context.Context, accountID, keepID string) (int64, error) {
	return r.exec(ctx, `DELETE FROM handshakes WHERE account_id = $1 AND id <> $2`, accountID, keepID)
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, incompleteBefore, completedBefore time.Time) (int64, error) {
	return r.exec(ctx,
		`DELETE FROM handshakes
		 WHERE (session_key IS NULL AND created_at < $1)
		    OR (session_key IS NOT NULL AND completed_at < $2)`,
		incompleteBefore, completedBefore)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
