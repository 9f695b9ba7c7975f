package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/attendance"
	logsvc "github.com/trezcool/masomo-portal/services/logger"
	"github.com/trezcool/masomo-portal/storage/database"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	cli, closeFn, err := newCommandLine(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}

	err = cli.run(os.Args)
	closeFn()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

// newCommandLine opens the configured storage engine. Postgres also gets a raw connection for migrations.
func newCommandLine(conf *core.Config) (*commandLine, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), conf.Database.Timeout)
	defer cancel()

	granularity, err := attendance.ParseGranularity(conf.Attendance.Granularity)
	if err != nil {
		return nil, nil, err
	}

	cli := &commandLine{}
	closers := make([]func() error, 0, 2)
	closeFn := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if conf.Database.Engine == core.EnginePostgres {
		if err = database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, nil, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, db.Close)
		cli.db = db.DB
	}

	repos, err := database.OpenRepositories(ctx, conf)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	closers = append(closers, repos.Store.Close)

	cli.usrRepo = repos.Users
	cli.attSvc = attendance.NewService(repos.Attendance, userGetter{repos.Users}, granularity)
	return cli, closeFn, nil
}
