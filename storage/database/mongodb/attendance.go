package mongodb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/masomo-portal/core/attendance"
)

type recordDoc struct {
	ID          string    `bson:"_id"`
	StudentID   string    `bson:"student_id"`
	PeriodKey   string    `bson:"period_key"`
	Granularity string    `bson:"granularity"`
	MarkedAt    time.Time `bson:"marked_at"`
	MarkedBy    string    `bson:"marked_by"`
	Note        string    `bson:"note,omitempty"`
	Present     bool      `bson:"present"`
}

func (doc recordDoc) toRecord() attendance.Record {
	return attendance.Record{
		ID:          doc.ID,
		StudentID:   doc.StudentID,
		PeriodKey:   doc.PeriodKey,
		Granularity: attendance.Granularity(doc.Granularity),
		MarkedAt:    doc.MarkedAt.UTC(),
		MarkedBy:    doc.MarkedBy,
		Note:        doc.Note,
		Present:     doc.Present,
	}
}

func markedAtRange(from, to time.Time) bson.M {
	rng := bson.M{}
	if !from.IsZero() {
		rng["$gte"] = from.UTC()
	}
	if !to.IsZero() {
		rng["$lte"] = to.UTC()
	}
	return rng
}

func recordQuery(filter *attendance.QueryFilter) bson.M {
	query := bson.M{}
	if filter == nil {
		return query
	}
	if filter.StudentID != "" {
		query["student_id"] = filter.StudentID
	}
	if filter.PeriodKey != "" {
		query["period_key"] = filter.PeriodKey
	}
	if filter.Granularity != "" {
		query["granularity"] = string(filter.Granularity)
	}
	if filter.Present != nil {
		query["present"] = *filter.Present
	}
	if rng := markedAtRange(filter.From, filter.To); len(rng) > 0 {
		query["marked_at"] = rng
	}
	return query
}

type attendanceRepository struct {
	base
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(s *Store) attendance.Repository {
	return &attendanceRepository{base: s.newBase(attendanceColl)}
}

// CreateRecord relies on the unique (student_id, period_key) index: concurrent duplicates lose the insert.
func (repo *attendanceRepository) CreateRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	rec.ID = uuid.New().String()
	doc := recordDoc{
		ID:          rec.ID,
		StudentID:   rec.StudentID,
		PeriodKey:   rec.PeriodKey,
		Granularity: string(rec.Granularity),
		MarkedAt:    rec.MarkedAt.UTC(),
		MarkedBy:    rec.MarkedBy,
		Note:        rec.Note,
		Present:     rec.Present,
	}
	if _, err := repo.coll.InsertOne(ctx, doc); err != nil {
		if _, dup := duplicateIndex(err, studentPeriodIndex); dup {
			return attendance.Record{}, attendance.ErrAlreadyMarked
		}
		return attendance.Record{}, errors.Wrap(err, "inserting attendance record")
	}
	return rec, nil
}

func (repo *attendanceRepository) QueryRecords(ctx context.Context, filter *attendance.QueryFilter) ([]attendance.Record, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	var docs []recordDoc
	opts := options.Find().SetSort(bson.D{{Key: "marked_at", Value: -1}, {Key: "student_id", Value: 1}})
	if err := repo.findAll(ctx, recordQuery(filter), &docs, opts); err != nil {
		return nil, errors.Wrap(err, "finding attendance records")
	}
	records := make([]attendance.Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, doc.toRecord())
	}
	return records, nil
}

func (repo *attendanceRepository) CountRecords(ctx context.Context, filter *attendance.QueryFilter) (int, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	n, err := repo.coll.CountDocuments(ctx, recordQuery(filter))
	if err != nil {
		return 0, errors.Wrap(err, "counting attendance records")
	}
	return int(n), nil
}

func (repo *attendanceRepository) DeleteRecords(ctx context.Context, filter attendance.ResetFilter) (int, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	query := bson.M{}
	if filter.PeriodKey != "" {
		query["period_key"] = filter.PeriodKey
	}
	if len(filter.StudentIDs) > 0 {
		query["student_id"] = bson.M{"$in": filter.StudentIDs}
	}
	if rng := markedAtRange(filter.MarkedFrom, filter.MarkedTo); len(rng) > 0 {
		query["marked_at"] = rng
	}
	if len(query) == 0 {
		return 0, errors.New("refusing to delete all attendance records")
	}

	res, err := repo.coll.DeleteMany(ctx, query)
	if err != nil {
		return 0, errors.Wrap(err, "deleting attendance records")
	}
	return int(res.DeletedCount), nil
}
