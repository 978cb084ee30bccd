package commands

import (
	"database/sql"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

// openDatabase opens and migrates the configured database
func openDatabase() (*sql.DB, error) {
	dbPath := config.DatabasePath()
	database, err := db.OpenWithMigrations(dbPath, logger.AddDBSymbol(logger.Logger))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}
