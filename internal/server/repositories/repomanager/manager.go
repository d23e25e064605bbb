package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/archivekeeper/internal/dbx"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/accessrequests"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/documents"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/grants"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/manuscripts"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/renditions"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/usertokens"
)

// RepositoryManager hands out repositories bound to a DBTX, so the same
// code runs against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	AccessRequests(db dbx.DBTX) accessrequests.Repository
	Grants(db dbx.DBTX) grants.Repository
	Manuscripts(db dbx.DBTX) manuscripts.Repository
	Documents(db dbx.DBTX) documents.Repository
	UserTokens(db dbx.DBTX) usertokens.Repository
	Renditions(db dbx.DBTX) renditions.Repository
}
