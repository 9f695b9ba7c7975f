package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/attendance"
	"github.com/trezcool/masomo-portal/core/user"
)

// userGetter adapts a user.Repository to attendance.UserGetter.
type userGetter struct {
	repo user.Repository
}

func (ug userGetter) GetByID(ctx context.Context, id string) (user.User, error) {
	return ug.repo.GetUser(ctx, user.GetFilter{ID: id})
}

func (cli *commandLine) resetAttendance(period, date, granularity string, students []string) (int, error) {
	filter := attendance.ResetFilter{PeriodKey: core.CleanString(period)}
	for _, id := range students {
		if id = core.CleanString(id); id != "" {
			filter.StudentIDs = append(filter.StudentIDs, id)
		}
	}
	if granularity != "" {
		g, err := attendance.ParseGranularity(granularity)
		if err != nil {
			return 0, err
		}
		filter.Granularity = g
	}
	if date != "" {
		d, err := time.Parse("2006-01-02", date)
		if err != nil {
			return 0, errors.Wrapf(err, "parsing date %q", date)
		}
		filter.Date = d
	}
	return cli.attSvc.Reset(context.Background(), filter)
}
