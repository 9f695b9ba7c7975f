package attendance

import (
	"context"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/user"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrAlreadyMarked    = errors.New("attendance already marked for this period")
	ErrStudentNotFound  = errors.New("student not found")
	ErrEmptyResetFilter = errors.New("a reset requires at least one filter")
)

type (
	// Repository stores attendance Records. It must reject a second Record for the same (StudentID, PeriodKey)
	// with ErrAlreadyMarked, atomically with the insert.
	Repository interface {
		CreateRecord(ctx context.Context, rec Record) (Record, error)
		// QueryRecords returns the matching records, most recent first.
		QueryRecords(ctx context.Context, filter *QueryFilter) ([]Record, error)
		CountRecords(ctx context.Context, filter *QueryFilter) (int, error)
		// DeleteRecords deletes the records matching filter.PeriodKey, filter.StudentIDs and the MarkedAt range.
		// It returns the number of deleted records.
		DeleteRecords(ctx context.Context, filter ResetFilter) (int, error)
	}

	// UserGetter finds the students attendance is marked for.
	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service interface {
		Mark(ctx context.Context, nm NewMark) (Record, error)
		Reset(ctx context.Context, filter ResetFilter) (int, error)
		Query(ctx context.Context, filter *QueryFilter) ([]Record, error)
		CountPresent(ctx context.Context, studentID string) (int, error)
		Summary(ctx context.Context, studentID string) (Summary, error)
	}

	service struct {
		repo        Repository
		users       UserGetter
		granularity Granularity
	}
)

var _ Service = (*service)(nil)

// NewService returns a ledger deduplicating marks over periods of the given granularity.
// A deployment keeps one granularity: mixing them would allow two marks for the same day.
func NewService(repo Repository, users UserGetter, granularity Granularity) Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(users, "users"),
		vala.StringNotEmpty(string(granularity), "granularity"),
	).CheckAndPanic()

	return &service{
		repo:        repo,
		users:       users,
		granularity: granularity,
	}
}

// Mark records the attendance of a student for the period holding nm.Timestamp.
// A second mark for the same period is rejected with a core.ConflictError wrapping ErrAlreadyMarked.
func (svc *service) Mark(ctx context.Context, nm NewMark) (Record, error) {
	if err := svc.checkStudent(ctx, nm.StudentID); err != nil {
		return Record{}, err
	}

	g := svc.granularity
	at := nm.Timestamp
	if at.IsZero() {
		at = NowFunc()
	}
	key, err := PeriodKey(at, g)
	if err != nil {
		return Record{}, errors.Wrap(err, "computing period key")
	}

	present := true
	if nm.Present != nil {
		present = *nm.Present
	}
	rec := Record{
		StudentID:   nm.StudentID,
		PeriodKey:   key,
		Granularity: g,
		MarkedAt:    at.UTC(),
		MarkedBy:    nm.MarkedBy,
		Note:        nm.Note,
		Present:     present,
	}

	rec, err = svc.repo.CreateRecord(ctx, rec)
	if err != nil {
		if errors.Cause(err) == ErrAlreadyMarked {
			return Record{}, core.NewConflictError(ErrAlreadyMarked)
		}
		return Record{}, errors.Wrap(err, "creating attendance record")
	}
	return rec, nil
}

func (svc *service) checkStudent(ctx context.Context, studentID string) error {
	usr, err := svc.users.GetByID(ctx, studentID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return core.NewValidationError(ErrStudentNotFound, core.FieldError{Field: "student_id", Error: ErrStudentNotFound.Error()})
		}
		return errors.Wrap(err, "finding student")
	}
	if !usr.IsStudent() {
		return core.NewValidationError(ErrStudentNotFound, core.FieldError{Field: "student_id", Error: ErrStudentNotFound.Error()})
	}
	return nil
}

// Reset deletes the records matching filter and returns how many were deleted.
// An empty filter is refused: it would wipe the whole ledger.
func (svc *service) Reset(ctx context.Context, filter ResetFilter) (int, error) {
	if filter.IsEmpty() {
		return 0, core.NewValidationError(ErrEmptyResetFilter)
	}
	if !filter.Date.IsZero() {
		g := filter.Granularity
		if g == "" {
			g = svc.granularity
		}
		key, err := PeriodKey(filter.Date, g)
		if err != nil {
			return 0, core.NewValidationError(err, core.FieldError{Field: "granularity", Error: err.Error()})
		}
		if filter.PeriodKey != "" && filter.PeriodKey != key {
			return 0, nil // disjoint periods
		}
		filter.PeriodKey = key
	}

	n, err := svc.repo.DeleteRecords(ctx, filter)
	if err != nil {
		return 0, errors.Wrap(err, "deleting attendance records")
	}
	return n, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter) ([]Record, error) {
	return svc.repo.QueryRecords(ctx, filter)
}

// CountPresent is the attendance counter of a student: the number of periods they were marked present.
func (svc *service) CountPresent(ctx context.Context, studentID string) (int, error) {
	return svc.repo.CountRecords(ctx, &QueryFilter{StudentID: studentID, Present: core.BoolPtr(true)})
}

func (svc *service) Summary(ctx context.Context, studentID string) (Summary, error) {
	sum := Summary{StudentID: studentID}

	present, err := svc.CountPresent(ctx, studentID)
	if err != nil {
		return Summary{}, errors.Wrap(err, "counting present records")
	}
	absent, err := svc.repo.CountRecords(ctx, &QueryFilter{StudentID: studentID, Present: core.BoolPtr(false)})
	if err != nil {
		return Summary{}, errors.Wrap(err, "counting absent records")
	}
	sum.Present, sum.Absent = present, absent

	if present+absent > 0 {
		recs, err := svc.repo.QueryRecords(ctx, &QueryFilter{StudentID: studentID})
		if err != nil {
			return Summary{}, errors.Wrap(err, "querying records")
		}
		if len(recs) > 0 {
			last := recs[0].MarkedAt
			sum.LastPeriodKey = recs[0].PeriodKey
			sum.LastMarkedAt = &last
		}
	}
	return sum, nil
}
