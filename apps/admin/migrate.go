package main

import (
	"database/sql"

	"github.com/trezcool/goose"

	"github.com/hilcoe/rms/fs"
	"github.com/hilcoe/rms/storage/database"
)

var gooseRunFunc = func(command string, db *sql.DB, args ...string) error { // mockable
	return goose.RunFS(command, db, appfs.FS, database.MigrationsDir, args...)
}

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoSQLDB
	}
	return gooseRunFunc(args[0], cli.db, args[1:]...)
}
