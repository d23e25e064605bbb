// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/archivekeeper/internal/dbx"
	"github.com/dmitrijs2005/archivekeeper/internal/server/migrations"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/accessrequests"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/documents"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/grants"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/manuscripts"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/renditions"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/usertokens"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Sessions(db dbx.DBTX) sessions.Repository {
	return sessions.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) AccessRequests(db dbx.DBTX) accessrequests.Repository {
	return accessrequests.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Grants(db dbx.DBTX) grants.Repository {
	return grants.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Manuscripts(db dbx.DBTX) manuscripts.Repository {
	return manuscripts.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Documents(db dbx.DBTX) documents.Repository {
	return documents.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) UserTokens(db dbx.DBTX) usertokens.Repository {
	return usertokens.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Renditions(db dbx.DBTX) renditions.Repository {
	return renditions.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}

// OpenDB opens a pgx-backed *sql.DB and checks connectivity.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
