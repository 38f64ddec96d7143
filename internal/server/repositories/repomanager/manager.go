package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/sharekeeper/internal/dbx"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/access"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/attachments"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/connections"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/handshakes"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/invites"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/secrets"
)

// RepositoryManager vends repositories bound to a connection or transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	Handshakes(db dbx.DBTX) handshakes.Repository
	Secrets(db dbx.DBTX) secrets.Repository
	Access(db dbx.DBTX) access.Repository
	Invites(db dbx.DBTX) invites.Repository
	Connections(db dbx.DBTX) connections.Repository
	Attachments(db dbx.DBTX) attachments.Repository
}
