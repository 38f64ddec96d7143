package attachments

import (
	"context"
	"fmt"

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

func (r *PostgresRepository) Upsert(ctx context.Context, a *models.Attachment) error {
	query :=
		`INSERT INTO attachments (secret_id, storage_key, upload_status)
		 VALUES ($1, $2, 'pending')
		 ON CONFLICT (secret_id) DO UPDATE
		 SET storage_key = EXCLUDED.storage_key, upload_status = 'pending', created_at = now()
		 RETURNING upload_status, created_at`

	err := r.db.QueryRowContext(ctx, query, a.SecretID, a.StorageKey).Scan(&a.UploadStatus, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, secretID string) (*models.Attachment, error) {
	query := `SELECT secret_id, storage_key, upload_status, created_at FROM attachments WHERE secret_id = $1`

	a := &models.Attachment{}
	err := r.db.QueryRowContext(ctx, query, secretID).Scan(&a.SecretID, &a.StorageKey, &a.UploadStatus, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return a, nil
}

func (r *PostgresRepository) MarkUploaded(ctx context.Context, secretID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE attachments SET upload_status = 'completed' WHERE secret_id = $1`, secretID)
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
