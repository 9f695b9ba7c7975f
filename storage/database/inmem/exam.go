package inmemdb

import (
	"context"
	"strings"

	"github.com/google/uuid"

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

func cloneQuestions(questions []exam.Question) []exam.Question {
	if questions == nil {
		return nil
	}
	cp := make([]exam.Question, len(questions))
	for i, q := range questions {
		q.Options = append([]string(nil), q.Options...)
		cp[i] = q
	}
	return cp
}

func cloneExam(ex exam.Exam) exam.Exam {
	ex.Questions = cloneQuestions(ex.Questions)
	if ex.PassingScore != nil {
		ex.PassingScore = core.IntPtr(*ex.PassingScore)
	}
	return ex
}

type examRepository struct {
	db *examTable
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(db *DB) exam.Repository {
	return &examRepository{db: db.exam}
}

func (repo *examRepository) CreateExam(_ context.Context, ex exam.Exam) (exam.Exam, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ex.ID = uuid.New().String()
	stored := cloneExam(ex)
	repo.db.table[ex.ID] = &stored
	return cloneExam(stored), nil
}

func (repo *examRepository) QueryExams(_ context.Context, filter *exam.QueryFilter, ordering []core.DBOrdering) ([]exam.Exam, error) {
	repo.db.RLock()
	exams := make([]exam.Exam, 0, len(repo.db.table))
	for _, ex := range repo.db.table {
		if matchExam(*ex, filter) {
			exams = append(exams, cloneExam(*ex))
		}
	}
	repo.db.RUnlock()

	ordering = core.CleanOrderings(ordering, examOrderingFields)
	if len(ordering) == 0 {
		ordering = examDefaultOrdering
	}
	sortBy(len(exams), func(i, j int) { exams[i], exams[j] = exams[j], exams[i] }, ordering, map[string]lessFunc{
		"title":      func(i, j int) int { return compareStrings(exams[i].Title, exams[j].Title) },
		"subject":    func(i, j int) int { return compareStrings(exams[i].Subject, exams[j].Subject) },
		"created_at": func(i, j int) int { return compareTimes(exams[i].CreatedAt, exams[j].CreatedAt) },
		"updated_at": func(i, j int) int { return compareTimes(exams[i].UpdatedAt, exams[j].UpdatedAt) },
	})
	return exams, nil
}

func matchExam(ex exam.Exam, filter *exam.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Search != "" {
		search := strings.ToLower(filter.Search)
		if !(strings.Contains(strings.ToLower(ex.Title), search) || strings.Contains(strings.ToLower(ex.Subject), search)) {
			return false
		}
	}
	if filter.Subject != "" && !strings.EqualFold(ex.Subject, filter.Subject) {
		return false
	}
	if filter.IsActive != nil && ex.IsActive != *filter.IsActive {
		return false
	}
	return true
}

func (repo *examRepository) GetExam(_ context.Context, id string) (exam.Exam, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ex, ok := repo.db.table[id]; ok {
		return cloneExam(*ex), nil
	}
	return exam.Exam{}, exam.ErrNotFound
}

func (repo *examRepository) UpdateExam(_ context.Context, ex exam.Exam) (exam.Exam, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[ex.ID]; !ok {
		return exam.Exam{}, exam.ErrNotFound
	}
	stored := cloneExam(ex)
	repo.db.table[ex.ID] = &stored
	return cloneExam(stored), nil
}

func (repo *examRepository) DeleteExamsByID(_ context.Context, ids ...string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	for _, id := range ids {
		delete(repo.db.table, id)
	}
	return nil
}

type resultRepository struct {
	db *resultTable
}

var _ exam.ResultRepository = (*resultRepository)(nil) // interface compliance check

func NewResultRepository(db *DB) exam.ResultRepository {
	return &resultRepository{db: db.result}
}

func cloneResult(res exam.Result) exam.Result {
	res.Answers = append([]exam.Answer(nil), res.Answers...)
	if res.DetailedQuestions != nil {
		dqs := make([]exam.DetailedQuestion, len(res.DetailedQuestions))
		for i, dq := range res.DetailedQuestions {
			dq.Options = append([]string(nil), dq.Options...)
			dqs[i] = dq
		}
		res.DetailedQuestions = dqs
	}
	return res
}

// CreateResult inserts res unless a Result already exists for (res.ExamID, res.StudentID).
func (repo *resultRepository) CreateResult(_ context.Context, res exam.Result) (exam.Result, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := compositeKey(res.ExamID, res.StudentID)
	if _, exists := repo.db.table[key]; exists {
		return exam.Result{}, exam.ErrDuplicateSubmission
	}
	res.ID = uuid.New().String()
	stored := cloneResult(res)
	repo.db.table[key] = &stored
	return cloneResult(stored), nil
}

func (repo *resultRepository) GetResult(_ context.Context, examID, studentID string) (exam.Result, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if res, ok := repo.db.table[compositeKey(examID, studentID)]; ok {
		return cloneResult(*res), nil
	}
	return exam.Result{}, exam.ErrResultNotFound
}

// QueryResults returns the matching results, most recent first.
func (repo *resultRepository) QueryResults(_ context.Context, filter exam.ResultFilter) ([]exam.Result, error) {
	repo.db.RLock()
	results := make([]exam.Result, 0)
	for _, res := range repo.db.table {
		if filter.ExamID != "" && res.ExamID != filter.ExamID {
			continue
		}
		if filter.StudentID != "" && res.StudentID != filter.StudentID {
			continue
		}
		results = append(results, cloneResult(*res))
	}
	repo.db.RUnlock()

	sortBy(len(results), func(i, j int) { results[i], results[j] = results[j], results[i] },
		[]core.DBOrdering{{Field: "completed_at"}, {Field: "id", Ascending: true}},
		map[string]lessFunc{
			"completed_at": func(i, j int) int { return compareTimes(results[i].CompletedAt, results[j].CompletedAt) },
			"id":           func(i, j int) int { return compareStrings(results[i].ID, results[j].ID) },
		})
	return results, nil
}
