package main

import (
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/storage/database"
)

var gooseRunFunc = database.Migrate // mockable

var errNoSQLDatabase = errors.New("migrations only apply to the postgres engine")

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoSQLDatabase
	}
	return gooseRunFunc(cli.db, args[0], args[1:]...)
}
