package exam

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/user"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound            = errors.New("exam not found")
	ErrResultNotFound      = errors.New("result not found")
	ErrDuplicateSubmission = errors.New("this exam has already been submitted")
	ErrExamInactive        = errors.New("this exam is not open for submissions")
	ErrExamActive          = errors.New("an active exam cannot be modified, deactivate it first")
	ErrInvalidExam         = errors.New("exam has no questions")
	ErrExamMismatch        = errors.New("submission does not belong to this exam")
)

type (
	Repository interface {
		CreateExam(ctx context.Context, ex Exam) (Exam, error)
		QueryExams(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Exam, error)
		GetExam(ctx context.Context, id string) (Exam, error)
		UpdateExam(ctx context.Context, ex Exam) (Exam, error)
		DeleteExamsByID(ctx context.Context, ids ...string) error
	}

	// ResultRepository stores Results. It must reject a second Result for the same (ExamID, StudentID)
	// with ErrDuplicateSubmission, atomically with the insert.
	ResultRepository interface {
		CreateResult(ctx context.Context, res Result) (Result, error)
		GetResult(ctx context.Context, examID, studentID string) (Result, error)
		QueryResults(ctx context.Context, filter ResultFilter) ([]Result, error)
	}

	// UserGetter finds the students results are sent to.
	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service interface {
		Create(ctx context.Context, ne NewExam, createdBy string) (Exam, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Exam, error)
		GetByID(ctx context.Context, id string) (Exam, error)
		Update(ctx context.Context, ex Exam, ue UpdateExam) (Exam, error)
		Delete(ctx context.Context, ids ...string) error
		Submit(ctx context.Context, sub Submission) (Result, error)
		GetResult(ctx context.Context, examID, studentID string) (Result, error)
		QueryResults(ctx context.Context, filter ResultFilter) ([]Result, error)
	}

	service struct {
		repo    Repository
		resRepo ResultRepository
		users   UserGetter
		mailSvc core.EmailService
		logger  core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, resRepo ResultRepository, users UserGetter, mailSvc core.EmailService, logger core.Logger) Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(resRepo, "resRepo"),
		vala.IsNotNil(users, "users"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(logger, "logger"),
	).CheckAndPanic()

	return &service{
		repo:    repo,
		resRepo: resRepo,
		users:   users,
		mailSvc: mailSvc,
		logger:  logger,
	}
}

func (svc *service) Create(ctx context.Context, ne NewExam, createdBy string) (Exam, error) {
	now := NowFunc().UTC()
	ex := Exam{
		Title:           ne.Title,
		Subject:         ne.Subject,
		DurationMinutes: ne.DurationMinutes,
		Questions:       ne.Questions,
		IsActive:        ne.IsActive,
		PassingScore:    ne.PassingScore,
		CreatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return svc.repo.CreateExam(ctx, ex)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Exam, error) {
	return svc.repo.QueryExams(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Exam, error) {
	return svc.repo.GetExam(ctx, id)
}

// Update applies the validated ue on ex.
func (svc *service) Update(ctx context.Context, ex Exam, ue UpdateExam) (Exam, error) {
	ex.Title = ue.Title
	ex.Subject = ue.Subject
	ex.DurationMinutes = ue.DurationMinutes
	ex.Questions = ue.Questions
	ex.PassingScore = ue.PassingScore
	if ue.IsActive != nil {
		ex.IsActive = *ue.IsActive
	}
	ex.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateExam(ctx, ex)
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteExamsByID(ctx, ids...)
}

// Submit scores sub and records its Result.
// A second submission by the same student is rejected with a core.ConflictError wrapping ErrDuplicateSubmission.
func (svc *service) Submit(ctx context.Context, sub Submission) (Result, error) {
	ex, err := svc.repo.GetExam(ctx, sub.ExamID)
	if err != nil {
		return Result{}, err
	}
	if !ex.IsActive {
		return Result{}, core.NewValidationError(ErrExamInactive)
	}

	res, err := Score(ex, sub)
	if err != nil {
		return Result{}, core.NewValidationError(err)
	}
	res.CompletedAt = NowFunc().UTC()

	res, err = svc.resRepo.CreateResult(ctx, res)
	if err != nil {
		if errors.Cause(err) == ErrDuplicateSubmission {
			return Result{}, core.NewConflictError(ErrDuplicateSubmission)
		}
		return Result{}, errors.Wrap(err, "creating result")
	}

	svc.sendResultMail(ctx, ex, res)
	return res, nil
}

// sendResultMail notifies the student of their result. Failures are logged only.
func (svc *service) sendResultMail(ctx context.Context, ex Exam, res Result) {
	student, err := svc.users.GetByID(ctx, res.StudentID)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("exam.sendResultMail: finding student %s: %v", res.StudentID, err), err)
		return
	}
	if student.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: student.Name, Address: student.Email}},
		Subject:      "Exam Result: " + ex.Title,
		TemplateName: "exam_result",
		TemplateData: map[string]interface{}{
			"StudentName":    student.Name,
			"ExamID":         ex.ID,
			"ExamTitle":      ex.Title,
			"Score":          res.Score,
			"TotalQuestions": res.TotalQuestions,
			"IsPassed":       res.IsPassed,
		},
	})
}

func (svc *service) GetResult(ctx context.Context, examID, studentID string) (Result, error) {
	return svc.resRepo.GetResult(ctx, examID, studentID)
}

func (svc *service) QueryResults(ctx context.Context, filter ResultFilter) ([]Result, error) {
	return svc.resRepo.QueryResults(ctx, filter)
}
