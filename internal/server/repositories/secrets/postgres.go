package secrets

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/dbx"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
	"github.com/dmitrijs2005/sharekeeper/internal/sharing"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectSecret = `SELECT id, manager_id, credentials, preview, share_previews, created_at, updated_at
	 FROM secrets WHERE id = $1`

func (r *PostgresRepository) Create(ctx context.Context, s *models.Secret) (*models.Secret, error) {
	query :=
		`INSERT INTO secrets (manager_id, credentials, preview, share_previews)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		s.ManagerID, dbx.JSONOf(s.Credentials), dbx.JSONOf(s.Preview), s.SharePreviews,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return s, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Secret, error) {
	return r.get(ctx, selectSecret, id)
}

func (r *PostgresRepository) GetForShare(ctx context.Context, id string) (*models.Secret, error) {
	return r.get(ctx, selectSecret+` FOR SHARE`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*models.Secret, error) {
	s := &models.Secret{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.ManagerID, dbx.JSONScan(&s.Credentials), dbx.JSONScan(&s.Preview),
		&s.SharePreviews, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return s, nil
}

func (r *PostgresRepository) Update(ctx context.Context, s *models.Secret) error {
	query :=
		`UPDATE secrets SET credentials = $2, preview = $3, share_previews = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		s.ID, dbx.JSONOf(s.Credentials), dbx.JSONOf(s.Preview), s.SharePreviews).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM secrets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListForAccount(ctx context.Context, accountID string) ([]*models.SecretListing, error) {
	query :=
		`SELECT s.id, s.manager_id, s.credentials, s.preview, s.share_previews, s.created_at, s.updated_at,
		        a.preview_key, a.credentials_key, a.status, a.updated_at
		 FROM secrets s
		 JOIN access_records a ON a.secret_id = s.id
		 WHERE a.recipient_kind = 'account' AND a.recipient_id = $1
		 ORDER BY s.created_at`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	defer rows.Close()

	var result []*models.SecretListing
	for rows.Next() {
		s := &models.Secret{}
		a := &models.AccessRecord{}
		var status string
		if err := rows.Scan(
			&s.ID, &s.ManagerID, dbx.JSONScan(&s.Credentials), dbx.JSONScan(&s.Preview),
			&s.SharePreviews, &s.CreatedAt, &s.UpdatedAt,
			dbx.JSONScan(&a.PreviewKey), dbx.JSONScan(&a.CredentialsKey), &status, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if a.Status, err = sharing.ParseStatus(status); err != nil {
			return nil, err
		}
		a.Key = models.AccessKey{SecretID: s.ID, Recipient: models.AccountRecipient(accountID)}
		result = append(result, &models.SecretListing{Secret: s, Access: a})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
