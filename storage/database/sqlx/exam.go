package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

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

const (
	examColumns   = "id, title, subject, duration_minutes, questions, is_active, passing_score, created_by, created_at, updated_at"
	resultColumns = "id, exam_id, student_id, score, total_questions, answers, detailed_questions, is_passed, completed_at"
)

type examRow struct {
	ID              string         `db:"id"`
	Title           string         `db:"title"`
	Subject         string         `db:"subject"`
	DurationMinutes int            `db:"duration_minutes"`
	Questions       types.JSONText `db:"questions"`
	IsActive        bool           `db:"is_active"`
	PassingScore    null.Int       `db:"passing_score"`
	CreatedBy       string         `db:"created_by"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func newExamRow(ex exam.Exam) (examRow, error) {
	questions := ex.Questions
	if questions == nil {
		questions = []exam.Question{}
	}
	qs, err := json.Marshal(questions)
	if err != nil {
		return examRow{}, errors.Wrap(err, "encoding questions")
	}
	return examRow{
		ID:              ex.ID,
		Title:           ex.Title,
		Subject:         ex.Subject,
		DurationMinutes: ex.DurationMinutes,
		Questions:       qs,
		IsActive:        ex.IsActive,
		PassingScore:    null.IntFromPtr(ex.PassingScore),
		CreatedBy:       ex.CreatedBy,
		CreatedAt:       ex.CreatedAt.UTC(),
		UpdatedAt:       ex.UpdatedAt.UTC(),
	}, nil
}

func (row examRow) toExam() (exam.Exam, error) {
	ex := exam.Exam{
		ID:              row.ID,
		Title:           row.Title,
		Subject:         row.Subject,
		DurationMinutes: row.DurationMinutes,
		IsActive:        row.IsActive,
		PassingScore:    row.PassingScore.Ptr(),
		CreatedBy:       row.CreatedBy,
		CreatedAt:       row.CreatedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
	}
	if err := row.Questions.Unmarshal(&ex.Questions); err != nil {
		return exam.Exam{}, errors.Wrapf(err, "decoding questions of exam %s", row.ID)
	}
	return ex, nil
}

type examRepository struct {
	base
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(db *sqlx.DB, timeout time.Duration) exam.Repository {
	return &examRepository{base: newBase(db, timeout)}
}

func (repo *examRepository) CreateExam(ctx context.Context, ex exam.Exam) (exam.Exam, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	ex.ID = uuid.New().String()
	row, err := newExamRow(ex)
	if err != nil {
		return exam.Exam{}, err
	}
	q := `INSERT INTO exams (` + examColumns + `)
		VALUES (:id, :title, :subject, :duration_minutes, :questions, :is_active, :passing_score, :created_by, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		return exam.Exam{}, errors.Wrap(err, "inserting exam")
	}
	return ex, nil
}

func (repo *examRepository) QueryExams(ctx context.Context, filter *exam.QueryFilter, ordering []core.DBOrdering) ([]exam.Exam, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	var wb whereBuilder
	if filter != nil {
		if filter.Search != "" {
			wb.add("(title ILIKE ? OR subject ILIKE ?)", "%"+filter.Search+"%")
		}
		if filter.Subject != "" {
			wb.add("lower(subject) = lower(?)", filter.Subject)
		}
		if filter.IsActive != nil {
			wb.add("is_active = ?", *filter.IsActive)
		}
	}

	ordering = core.CleanOrderings(ordering, examOrderingFields)
	if len(ordering) == 0 {
		ordering = examDefaultOrdering
	}

	var rows []examRow
	q := "SELECT " + examColumns + " FROM exams" + wb.String() + orderBy(ordering)
	if err := repo.db.SelectContext(ctx, &rows, q, wb.args...); err != nil {
		return nil, errors.Wrap(err, "selecting exams")
	}
	exams := make([]exam.Exam, 0, len(rows))
	for _, row := range rows {
		ex, err := row.toExam()
		if err != nil {
			return nil, err
		}
		exams = append(exams, ex)
	}
	return exams, nil
}

func (repo *examRepository) GetExam(ctx context.Context, id string) (exam.Exam, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	if !isUUID(id) {
		return exam.Exam{}, exam.ErrNotFound
	}
	var row examRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+examColumns+" FROM exams WHERE id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return exam.Exam{}, exam.ErrNotFound
		}
		return exam.Exam{}, errors.Wrap(err, "selecting exam")
	}
	return row.toExam()
}

func (repo *examRepository) UpdateExam(ctx context.Context, ex exam.Exam) (exam.Exam, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	if !isUUID(ex.ID) {
		return exam.Exam{}, exam.ErrNotFound
	}
	row, err := newExamRow(ex)
	if err != nil {
		return exam.Exam{}, err
	}
	q := `UPDATE exams SET
			title = :title, subject = :subject, duration_minutes = :duration_minutes, questions = :questions,
			is_active = :is_active, passing_score = :passing_score, updated_at = :updated_at
		WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return exam.Exam{}, errors.Wrap(err, "updating exam")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
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
	if _, err := repo.db.ExecContext(ctx, "DELETE FROM exams WHERE id::text = ANY($1)", pq.StringArray(ids)); err != nil {
		return errors.Wrap(err, "deleting exams")
	}
	return nil
}

type resultRow struct {
	ID                string         `db:"id"`
	ExamID            string         `db:"exam_id"`
	StudentID         string         `db:"student_id"`
	Score             int            `db:"score"`
	TotalQuestions    int            `db:"total_questions"`
	Answers           types.JSONText `db:"answers"`
	DetailedQuestions types.JSONText `db:"detailed_questions"`
	IsPassed          bool           `db:"is_passed"`
	CompletedAt       time.Time      `db:"completed_at"`
}

func newResultRow(res exam.Result) (resultRow, error) {
	answers := res.Answers
	if answers == nil {
		answers = []exam.Answer{}
	}
	dqs := res.DetailedQuestions
	if dqs == nil {
		dqs = []exam.DetailedQuestion{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return resultRow{}, errors.Wrap(err, "encoding answers")
	}
	dqsJSON, err := json.Marshal(dqs)
	if err != nil {
		return resultRow{}, errors.Wrap(err, "encoding detailed questions")
	}
	return resultRow{
		ID:                res.ID,
		ExamID:            res.ExamID,
		StudentID:         res.StudentID,
		Score:             res.Score,
		TotalQuestions:    res.TotalQuestions,
		Answers:           answersJSON,
		DetailedQuestions: dqsJSON,
		IsPassed:          res.IsPassed,
		CompletedAt:       res.CompletedAt.UTC(),
	}, nil
}

func (row resultRow) toResult() (exam.Result, error) {
	res := exam.Result{
		ID:             row.ID,
		ExamID:         row.ExamID,
		StudentID:      row.StudentID,
		Score:          row.Score,
		TotalQuestions: row.TotalQuestions,
		IsPassed:       row.IsPassed,
		CompletedAt:    row.CompletedAt.UTC(),
	}
	if err := row.Answers.Unmarshal(&res.Answers); err != nil {
		return exam.Result{}, errors.Wrapf(err, "decoding answers of result %s", row.ID)
	}
	if err := row.DetailedQuestions.Unmarshal(&res.DetailedQuestions); err != nil {
		return exam.Result{}, errors.Wrapf(err, "decoding detailed questions of result %s", row.ID)
	}
	return res, nil
}

type resultRepository struct {
	base
}

var _ exam.ResultRepository = (*resultRepository)(nil) // interface compliance check

func NewResultRepository(db *sqlx.DB, timeout time.Duration) exam.ResultRepository {
	return &resultRepository{base: newBase(db, timeout)}
}

// CreateResult relies on the (exam_id, student_id) unique constraint: concurrent duplicates lose the insert.
func (repo *resultRepository) CreateResult(ctx context.Context, res exam.Result) (exam.Result, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	res.ID = uuid.New().String()
	row, err := newResultRow(res)
	if err != nil {
		return exam.Result{}, err
	}
	q := `INSERT INTO exam_results (` + resultColumns + `)
		VALUES (:id, :exam_id, :student_id, :score, :total_questions, :answers, :detailed_questions, :is_passed, :completed_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return exam.Result{}, exam.ErrDuplicateSubmission
		}
		return exam.Result{}, errors.Wrap(err, "inserting result")
	}
	return res, nil
}

func (repo *resultRepository) GetResult(ctx context.Context, examID, studentID string) (exam.Result, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	var row resultRow
	q := "SELECT " + resultColumns + " FROM exam_results WHERE exam_id = $1 AND student_id = $2"
	if err := repo.db.GetContext(ctx, &row, q, examID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return exam.Result{}, exam.ErrResultNotFound
		}
		return exam.Result{}, errors.Wrap(err, "selecting result")
	}
	return row.toResult()
}

func (repo *resultRepository) QueryResults(ctx context.Context, filter exam.ResultFilter) ([]exam.Result, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()

	var wb whereBuilder
	if filter.ExamID != "" {
		wb.add("exam_id = ?", filter.ExamID)
	}
	if filter.StudentID != "" {
		wb.add("student_id = ?", filter.StudentID)
	}

	var rows []resultRow
	q := "SELECT " + resultColumns + " FROM exam_results" + wb.String() + " ORDER BY completed_at DESC, id ASC"
	if err := repo.db.SelectContext(ctx, &rows, q, wb.args...); err != nil {
		return nil, errors.Wrap(err, "selecting results")
	}
	results := make([]exam.Result, 0, len(rows))
	for _, row := range rows {
		res, err := row.toResult()
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}
