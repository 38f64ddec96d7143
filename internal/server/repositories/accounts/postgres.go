package accounts

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

const selectAccount = `SELECT id, email, srp_salt, srp_pbkdf2_salt, master_key_pbkdf2_salt,
		verifier, public_key, private_key_salt, encrypted_private_key, created_at, updated_at
	 FROM accounts`

func (r *PostgresRepository) Create(ctx context.Context, a *models.Account) (*models.Account, error) {
	query :=
		`INSERT INTO accounts (email, srp_salt, srp_pbkdf2_salt, master_key_pbkdf2_salt,
			verifier, public_key, private_key_salt, encrypted_private_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		a.Email, a.SRPSalt, a.SRPPbkdf2Salt, a.MasterKeyPbkdf2Salt,
		a.Verifier, a.PublicKey, a.PrivateKeySalt, dbx.JSONOf(a.EncryptedPrivateKey),
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}

	return a, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.get(ctx, selectAccount+` WHERE email = $1`, email)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.get(ctx, selectAccount+` WHERE id = $1`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query string, arg any) (*models.Account, error) {
	a := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&a.ID, &a.Email, &a.SRPSalt, &a.SRPPbkdf2Salt, &a.MasterKeyPbkdf2Salt,
		&a.Verifier, &a.PublicKey, &a.PrivateKeySalt, dbx.JSONScan(&a.EncryptedPrivateKey),
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return a, nil
}

func (r *PostgresRepository) UpdateCredentials(ctx context.Context, id string, c *models.Credentials) error {
	query :=
		`UPDATE accounts
		 SET srp_salt = $2, srp_pbkdf2_salt = $3, master_key_pbkdf2_salt = $4, verifier = $5,
		     private_key_salt = $6, encrypted_private_key = $7, updated_at = now()
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id,
		c.SRPSalt, c.SRPPbkdf2Salt, c.MasterKeyPbkdf2Salt, c.Verifier,
		c.PrivateKeySalt, dbx.JSONOf(c.EncryptedPrivateKey))
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
