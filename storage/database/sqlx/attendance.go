package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-portal/core/attendance"
)

const recordColumns = "id, student_id, period_key, granularity, marked_at, marked_by, note, present"

type recordRow struct {
	ID          string      `db:"id"`
	StudentID   string      `db:"student_id"`
	PeriodKey   string      `db:"period_key"`
	Granularity string      `db:"granularity"`
	MarkedAt    time.Time   `db:"marked_at"`
	MarkedBy    string      `db:"marked_by"`
	Note        null.String `db:"note"`
	Present     bool        `db:"present"`
}

func (row recordRow) toRecord() attendance.Record {
	return attendance.Record{
		ID:          row.ID,
		StudentID:   row.StudentID,
		PeriodKey:   row.PeriodKey,
		Granularity: attendance.Granularity(row.Granularity),
		MarkedAt:    row.MarkedAt.UTC(),
		MarkedBy:    row.MarkedBy,
		Note:        row.Note.String,
		Present:     row.Present,
	}
}

func queryConditions(filter *attendance.QueryFilter) *whereBuilder {
	wb := new(whereBuilder)
	if filter == nil {
		return wb
	}
	if filter.StudentID != "" {
		wb.add("student_id = ?", filter.StudentID)
	}
	if filter.PeriodKey != "" {
		wb.add("period_key = ?", filter.PeriodKey)
	}
	if filter.Granularity != "" {
		wb.add("granularity = ?", string(filter.Granularity))
	}
	if filter.Present != nil {
		wb.add("present = ?", *filter.Present)
	}
	if !filter.From.IsZero() {
		wb.add("marked_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		wb.add("marked_at <= ?", filter.To.UTC())
	}
	return wb
}

type attendanceRepository struct {
	base
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *sqlx.DB, timeout time.Duration) attendance.Repository {
	return &attendanceRepository{base: newBase(db, timeout)}
}

// CreateRecord relies on the (student_id, period_key) unique constraint: concurrent duplicates lose the insert.
func (repo *attendanceRepository) CreateRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	rec.ID = uuid.New().String()
	row := recordRow{
		ID:          rec.ID,
		StudentID:   rec.StudentID,
		PeriodKey:   rec.PeriodKey,
		Granularity: string(rec.Granularity),
		MarkedAt:    rec.MarkedAt.UTC(),
		MarkedBy:    rec.MarkedBy,
		Note:        null.NewString(rec.Note, rec.Note != ""),
		Present:     rec.Present,
	}
	q := `INSERT INTO attendance_records (` + recordColumns + `)
		VALUES (:id, :student_id, :period_key, :granularity, :marked_at, :marked_by, :note, :present)`
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return attendance.Record{}, attendance.ErrAlreadyMarked
		}
		return attendance.Record{}, errors.Wrap(err, "inserting attendance record")
	}
	return rec, nil
}

func (repo *attendanceRepository) QueryRecords(ctx context.Context, filter *attendance.QueryFilter) ([]attendance.Record, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	wb := queryConditions(filter)
	var rows []recordRow
	q := "SELECT " + recordColumns + " FROM attendance_records" + wb.String() + " ORDER BY marked_at DESC, student_id ASC"
	if err := repo.db.SelectContext(ctx, &rows, q, wb.args...); err != nil {
		return nil, errors.Wrap(err, "selecting attendance records")
	}
	records := make([]attendance.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

func (repo *attendanceRepository) CountRecords(ctx context.Context, filter *attendance.QueryFilter) (int, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	wb := queryConditions(filter)
	var n int
	if err := repo.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM attendance_records"+wb.String(), wb.args...); err != nil {
		return 0, errors.Wrap(err, "counting attendance records")
	}
	return n, nil
}

func (repo *attendanceRepository) DeleteRecords(ctx context.Context, filter attendance.ResetFilter) (int, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	var wb whereBuilder
	if filter.PeriodKey != "" {
		wb.add("period_key = ?", filter.PeriodKey)
	}
	if len(filter.StudentIDs) > 0 {
		wb.add("student_id = ANY(?)", pq.StringArray(filter.StudentIDs))
	}
	if !filter.MarkedFrom.IsZero() {
		wb.add("marked_at >= ?", filter.MarkedFrom.UTC())
	}
	if !filter.MarkedTo.IsZero() {
		wb.add("marked_at <= ?", filter.MarkedTo.UTC())
	}
	if len(wb.conds) == 0 {
		return 0, errors.New("refusing to delete all attendance records")
	}

	res, err := repo.db.ExecContext(ctx, "DELETE FROM attendance_records"+wb.String(), wb.args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting attendance records")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting deleted attendance records")
	}
	return int(n), nil
}
