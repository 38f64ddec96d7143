package connections

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/sharekeeper/internal/dbx"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) List(ctx context.Context, accountID string) ([]*models.Connection, error) {
	query :=
		`SELECT c.account_id, c.peer_id, a.email, a.public_key
		 FROM connections c
		 JOIN accounts a ON a.id = c.peer_id
		 WHERE c.account_id = $1
		 ORDER BY a.email`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	defer rows.Close()

	var result []*models.Connection
	for rows.Next() {
		c := &models.Connection{}
		if err := rows.Scan(&c.AccountID, &c.PeerID, &c.PeerEmail, &c.PeerPublicKey); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, accountID, peerID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM connections WHERE account_id = $1 AND peer_id = $2)`,
		accountID, peerID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return ok, nil
}

func (r *PostgresRepository) Connect(ctx context.Context, a, b string) error {
	query :=
		`INSERT INTO connections (account_id, peer_id)
		 VALUES ($1, $2), ($2, $1)
		 ON CONFLICT DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, a, b); err != nil {
		return fmt.Errorf("db error: %w", dbx.MapError(err))
	}
	return nil
}
