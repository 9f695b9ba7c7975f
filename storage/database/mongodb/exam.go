package mongodb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/exam"
)

var (
	examOrderingFields = map[string]string{
		"title":      "title",
		"subject":    "subject",
		"created_at": "created_at",
		"updated_at": "updated_at",
	}
	examDefaultOrdering = []core.DBOrdering{{Field: "created_at"}, {Field: "title", Ascending: true}}
)

type examDoc struct {
	ID              string          `bson:"_id"`
	Title           string          `bson:"title"`
	Subject         string          `bson:"subject"`
	DurationMinutes int             `bson:"duration_minutes"`
	Questions       []exam.Question `bson:"questions"`
	IsActive        bool            `bson:"is_active"`
	PassingScore    *int            `bson:"passing_score,omitempty"`
	CreatedBy       string          `bson:"created_by"`
	CreatedAt       time.Time       `bson:"created_at"`
	UpdatedAt       time.Time       `bson:"updated_at"`
}

func newExamDoc(ex exam.Exam) examDoc {
	return examDoc{
		ID:              ex.ID,
		Title:           ex.Title,
		Subject:         ex.Subject,
		DurationMinutes: ex.DurationMinutes,
		Questions:       ex.Questions,
		IsActive:        ex.IsActive,
		PassingScore:    ex.PassingScore,
		CreatedBy:       ex.CreatedBy,
		CreatedAt:       ex.CreatedAt.UTC(),
		UpdatedAt:       ex.UpdatedAt.UTC(),
	}
}

func (doc examDoc) toExam() exam.Exam {
	return exam.Exam{
		ID:              doc.ID,
		Title:           doc.Title,
		Subject:         doc.Subject,
		DurationMinutes: doc.DurationMinutes,
		Questions:       doc.Questions,
		IsActive:        doc.IsActive,
		PassingScore:    doc.PassingScore,
		CreatedBy:       doc.CreatedBy,
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       doc.UpdatedAt.UTC(),
	}
}

type examRepository struct {
	base
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(s *Store) exam.Repository {
	return &examRepository{base: s.newBase(examsColl)}
}

func (repo *examRepository) CreateExam(ctx context.Context, ex exam.Exam) (exam.Exam, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	ex.ID = uuid.New().String()
	if _, err := repo.coll.InsertOne(ctx, newExamDoc(ex)); err != nil {
		return exam.Exam{}, errors.Wrap(err, "inserting exam")
	}
	return ex, nil
}

func (repo *examRepository) QueryExams(ctx context.Context, filter *exam.QueryFilter, ordering []core.DBOrdering) ([]exam.Exam, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	query := bson.M{}
	if filter != nil {
		if filter.Search != "" {
			re := containsRegex(filter.Search)
			query["$or"] = bson.A{bson.M{"title": re}, bson.M{"subject": re}}
		}
		if filter.Subject != "" {
			query["subject"] = bson.M{"$regex": "^" + containsRegex(filter.Subject).Pattern + "$", "$options": "i"}
		}
		if filter.IsActive != nil {
			query["is_active"] = *filter.IsActive
		}
	}

	ordering = core.CleanOrderings(ordering, examOrderingFields)
	if len(ordering) == 0 {
		ordering = examDefaultOrdering
	}

	var docs []examDoc
	if err := repo.findAll(ctx, query, &docs, options.Find().SetSort(sortDoc(ordering))); err != nil {
		return nil, errors.Wrap(err, "finding exams")
	}
	exams := make([]exam.Exam, 0, len(docs))
	for _, doc := range docs {
		exams = append(exams, doc.toExam())
	}
	return exams, nil
}

func (repo *examRepository) GetExam(ctx context.Context, id string) (exam.Exam, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	var doc examDoc
	if err := repo.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return exam.Exam{}, exam.ErrNotFound
		}
		return exam.Exam{}, errors.Wrap(err, "finding exam")
	}
	return doc.toExam(), nil
}

func (repo *examRepository) UpdateExam(ctx context.Context, ex exam.Exam) (exam.Exam, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	res, err := repo.coll.ReplaceOne(ctx, bson.M{"_id": ex.ID}, newExamDoc(ex))
	if err != nil {
		return exam.Exam{}, errors.Wrap(err, "replacing exam")
	}
	if res.MatchedCount == 0 {
		return exam.Exam{}, exam.ErrNotFound
	}
	return ex, nil
}

func (repo *examRepository) DeleteExamsByID(ctx context.Context, ids ...string) error {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	if len(ids) == 0 {
		return nil
	}
	if _, err := repo.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return errors.Wrap(err, "deleting exams")
	}
	return nil
}

type resultDoc struct {
	ID                string                  `bson:"_id"`
	ExamID            string                  `bson:"exam_id"`
	StudentID         string                  `bson:"student_id"`
	Score             int                     `bson:"score"`
	TotalQuestions    int                     `bson:"total_questions"`
	Answers           []exam.Answer           `bson:"answers"`
	DetailedQuestions []exam.DetailedQuestion `bson:"detailed_questions"`
	IsPassed          bool                    `bson:"is_passed"`
	CompletedAt       time.Time               `bson:"completed_at"`
}

func (doc resultDoc) toResult() exam.Result {
	return exam.Result{
		ID:                doc.ID,
		ExamID:            doc.ExamID,
		StudentID:         doc.StudentID,
		Score:             doc.Score,
		TotalQuestions:    doc.TotalQuestions,
		Answers:           doc.Answers,
		DetailedQuestions: doc.DetailedQuestions,
		IsPassed:          doc.IsPassed,
		CompletedAt:       doc.CompletedAt.UTC(),
	}
}

type resultRepository struct {
	base
}

var _ exam.ResultRepository = (*resultRepository)(nil) // interface compliance check

func NewResultRepository(s *Store) exam.ResultRepository {
	return &resultRepository{base: s.newBase(resultsColl)}
}

// CreateResult relies on the unique (exam_id, student_id) index: concurrent duplicates lose the insert.
func (repo *resultRepository) CreateResult(ctx context.Context, res exam.Result) (exam.Result, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	res.ID = uuid.New().String()
	doc := resultDoc{
		ID:                res.ID,
		ExamID:            res.ExamID,
		StudentID:         res.StudentID,
		Score:             res.Score,
		TotalQuestions:    res.TotalQuestions,
		Answers:           res.Answers,
		DetailedQuestions: res.DetailedQuestions,
		IsPassed:          res.IsPassed,
		CompletedAt:       res.CompletedAt.UTC(),
	}
	if _, err := repo.coll.InsertOne(ctx, doc); err != nil {
		if _, dup := duplicateIndex(err, examStudentIndex); dup {
			return exam.Result{}, exam.ErrDuplicateSubmission
		}
		return exam.Result{}, errors.Wrap(err, "inserting result")
	}
	return res, nil
}

func (repo *resultRepository) GetResult(ctx context.Context, examID, studentID string) (exam.Result, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	var doc resultDoc
	if err := repo.coll.FindOne(ctx, bson.M{"exam_id": examID, "student_id": studentID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return exam.Result{}, exam.ErrResultNotFound
		}
		return exam.Result{}, errors.Wrap(err, "finding result")
	}
	return doc.toResult(), nil
}

func (repo *resultRepository) QueryResults(ctx context.Context, filter exam.ResultFilter) ([]exam.Result, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	query := bson.M{}
	if filter.ExamID != "" {
		query["exam_id"] = filter.ExamID
	}
	if filter.StudentID != "" {
		query["student_id"] = filter.StudentID
	}

	var docs []resultDoc
	opts := options.Find().SetSort(bson.D{{Key: "completed_at", Value: -1}, {Key: "_id", Value: 1}})
	if err := repo.findAll(ctx, query, &docs, opts); err != nil {
		return nil, errors.Wrap(err, "finding results")
	}
	results := make([]exam.Result, 0, len(docs))
	for _, doc := range docs {
		results = append(results, doc.toResult())
	}
	return results, nil
}
