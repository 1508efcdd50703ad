package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/mediaarchive/internal/dbx"
	"github.com/dmitrijs2005/mediaarchive/internal/server/repositories/assets"
	"github.com/dmitrijs2005/mediaarchive/internal/server/repositories/episodes"
	"github.com/dmitrijs2005/mediaarchive/internal/server/repositories/versions"
)

// RepositoryManager vends repositories bound to a database handle, so the
// same code runs against *sql.DB or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Versions(db dbx.DBTX) versions.Repository
	Episodes(db dbx.DBTX) episodes.Repository
	Assets(db dbx.DBTX) assets.Repository
}
