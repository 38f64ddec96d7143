package access

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/dbx"
	"github.com/dmitrijs2005/sharekeeper/internal/envelope"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
	"github.com/dmitrijs2005/sharekeeper/internal/sharing"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectRecord = `SELECT secret_id, recipient_kind, recipient_id, preview_key, credentials_key, status, updated_at
	 FROM access_records`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.AccessRecord, error) {
	rec := &models.AccessRecord{}
	var kind, status string
	if err := row.Scan(&rec.Key.SecretID, &kind, &rec.Key.Recipient.ID,
		dbx.JSONScan(&rec.PreviewKey), dbx.JSONScan(&rec.CredentialsKey), &status, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if rec.Key.Recipient.Kind, err = models.ParseRecipientKind(kind); err != nil {
		return nil, err
	}
	if rec.Status, err = sharing.ParseStatus(status); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *models.AccessRecord) error {
	query :=
		`INSERT INTO access_records (secret_id, recipient_kind, recipient_id, preview_key, credentials_key, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		rec.Key.SecretID, string(rec.Key.Recipient.Kind), rec.Key.Recipient.ID,
		dbx.JSONOf(rec.PreviewKey), dbx.JSONOf(rec.CredentialsKey), string(rec.Status),
	).Scan(&rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.AccessRecord) error {
	query :=
		`INSERT INTO access_records (secret_id, recipient_kind, recipient_id, preview_key, credentials_key, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (secret_id, recipient_kind, recipient_id) DO UPDATE
		 SET preview_key = EXCLUDED.preview_key,
		     credentials_key = EXCLUDED.credentials_key,
		     status = EXCLUDED.status,
		     updated_at = now()
		 RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		rec.Key.SecretID, string(rec.Key.Recipient.Kind), rec.Key.Recipient.ID,
		dbx.JSONOf(rec.PreviewKey), dbx.JSONOf(rec.CredentialsKey), string(rec.Status),
	).Scan(&rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, key models.AccessKey) (*models.AccessRecord, error) {
	return r.get(ctx, selectRecord+` WHERE secret_id = $1 AND recipient_kind = $2 AND recipient_id = $3`, key)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, key models.AccessKey) (*models.AccessRecord, error) {
	return r.get(ctx, selectRecord+` WHERE secret_id = $1 AND recipient_kind = $2 AND recipient_id = $3 FOR UPDATE`, key)
}

func (r *PostgresRepository) get(ctx context.Context, query string, key models.AccessKey) (*models.AccessRecord, error) {
	row := r.db.QueryRowContext(ctx, query, key.SecretID, string(key.Recipient.Kind), key.Recipient.ID)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return rec, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, key models.AccessKey, expected, next sharing.Status, credentialsKey *envelope.WrappedKey) error {
	query :=
		`UPDATE access_records SET status = $5, credentials_key = $6, updated_at = now()
		 WHERE secret_id = $1 AND recipient_kind = $2 AND recipient_id = $3 AND status = $4`

	res, err := r.db.ExecContext(ctx, query,
		key.SecretID, string(key.Recipient.Kind), key.Recipient.ID,
		string(expected), string(next), dbx.JSONOf(credentialsKey))
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

func (r *PostgresRepository) Delete(ctx context.Context, key models.AccessKey, expected sharing.Status) error {
	query :=
		`DELETE FROM access_records
		 WHERE secret_id = $1 AND recipient_kind = $2 AND recipient_id = $3 AND status = $4`

	res, err := r.db.ExecContext(ctx, query,
		key.SecretID, string(key.Recipient.Kind), key.Recipient.ID, string(expected))
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

func (r *PostgresRepository) ListBySecret(ctx context.Context, secretID string) ([]*models.AccessRecord, error) {
	return r.list(ctx, selectRecord+` WHERE secret_id = $1 ORDER BY updated_at`, secretID)
}

func (r *PostgresRepository) ListByRecipientForUpdate(ctx context.Context, rc models.Recipient) ([]*models.AccessRecord, error) {
	return r.list(ctx, selectRecord+` WHERE recipient_kind = $1 AND recipient_id = $2 ORDER BY secret_id FOR UPDATE`,
		string(rc.Kind), rc.ID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.AccessRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	defer rows.Close()

	var result []*models.AccessRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) DeleteByRecipient(ctx context.Context, rc models.Recipient) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM access_records WHERE recipient_kind = $1 AND recipient_id = $2`,
		string(rc.Kind), rc.ID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return res.RowsAffected()
}
