package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/attendance"
)

type attendanceRepository struct {
	db *attendanceTable
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *DB) attendance.Repository {
	return &attendanceRepository{db: db.attendance}
}

// CreateRecord inserts rec unless a Record already exists for (rec.StudentID, rec.PeriodKey).
func (repo *attendanceRepository) CreateRecord(_ context.Context, rec attendance.Record) (attendance.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := compositeKey(rec.StudentID, rec.PeriodKey)
	if _, exists := repo.db.table[key]; exists {
		return attendance.Record{}, attendance.ErrAlreadyMarked
	}
	rec.ID = uuid.New().String()
	stored := rec
	repo.db.table[key] = &stored
	return rec, nil
}

func (repo *attendanceRepository) QueryRecords(_ context.Context, filter *attendance.QueryFilter) ([]attendance.Record, error) {
	repo.db.RLock()
	records := make([]attendance.Record, 0)
	for _, rec := range repo.db.table {
		if filter.Match(*rec) {
			records = append(records, *rec)
		}
	}
	repo.db.RUnlock()

	sortBy(len(records), func(i, j int) { records[i], records[j] = records[j], records[i] },
		[]core.DBOrdering{{Field: "marked_at"}, {Field: "student_id", Ascending: true}},
		map[string]lessFunc{
			"marked_at":  func(i, j int) int { return compareTimes(records[i].MarkedAt, records[j].MarkedAt) },
			"student_id": func(i, j int) int { return compareStrings(records[i].StudentID, records[j].StudentID) },
		})
	return records, nil
}

func (repo *attendanceRepository) CountRecords(_ context.Context, filter *attendance.QueryFilter) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var n int
	for _, rec := range repo.db.table {
		if filter.Match(*rec) {
			n++
		}
	}
	return n, nil
}

func (repo *attendanceRepository) DeleteRecords(_ context.Context, filter attendance.ResetFilter) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int
	for key, rec := range repo.db.table {
		if filter.Match(*rec) {
			delete(repo.db.table, key)
			n++
		}
	}
	return n, nil
}
