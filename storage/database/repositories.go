package database

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/attendance"
	"github.com/trezcool/masomo-portal/core/exam"
	"github.com/trezcool/masomo-portal/core/user"
	inmemdb "github.com/trezcool/masomo-portal/storage/database/inmem"
	"github.com/trezcool/masomo-portal/storage/database/mongodb"
	sqlxrepos "github.com/trezcool/masomo-portal/storage/database/sqlx"
)

// Repositories bundles the repositories of one storage engine.
type Repositories struct {
	Store      core.Store
	Users      user.Repository
	Exams      exam.Repository
	Results    exam.ResultRepository
	Attendance attendance.Repository
}

// OpenRepositories opens the storage engine set in conf.Database.Engine.
// The caller must Close the returned Store.
func OpenRepositories(ctx context.Context, conf *core.Config) (*Repositories, error) {
	switch conf.Database.Engine {
	case core.EngineMemory:
		db := inmemdb.Open()
		return &Repositories{
			Store:      db,
			Users:      inmemdb.NewUserRepository(db),
			Exams:      inmemdb.NewExamRepository(db),
			Results:    inmemdb.NewResultRepository(db),
			Attendance: inmemdb.NewAttendanceRepository(db),
		}, nil

	case core.EnginePostgres:
		db, err := Open(conf)
		if err != nil {
			return nil, errors.Wrap(err, "opening database")
		}
		if err = Ping(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		timeout := conf.Database.Timeout
		return &Repositories{
			Store:      sqlxrepos.NewStore(db),
			Users:      sqlxrepos.NewUserRepository(db, timeout),
			Exams:      sqlxrepos.NewExamRepository(db, timeout),
			Results:    sqlxrepos.NewResultRepository(db, timeout),
			Attendance: sqlxrepos.NewAttendanceRepository(db, timeout),
		}, nil

	case core.EngineMongoDB:
		store, err := mongodb.Open(ctx, conf)
		if err != nil {
			return nil, err
		}
		if err = store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, errors.Wrap(err, "pinging mongodb")
		}
		if err = store.EnsureIndexes(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return &Repositories{
			Store:      store,
			Users:      mongodb.NewUserRepository(store),
			Exams:      mongodb.NewExamRepository(store),
			Results:    mongodb.NewResultRepository(store),
			Attendance: mongodb.NewAttendanceRepository(store),
		}, nil
	}
	return nil, errors.Errorf("unknown database engine %q", conf.Database.Engine)
}
