package exam_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/exam"
	"github.com/trezcool/masomo-portal/core/user"
	emailsvc "github.com/trezcool/masomo-portal/services/email"
	inmemdb "github.com/trezcool/masomo-portal/storage/database/inmem"
	testutil "github.com/trezcool/masomo-portal/tests"
)

type examTestEnv struct {
	svc      exam.Service
	examRepo exam.Repository
	userRepo user.Repository
	mailSvc  *emailsvc.ConsoleServiceMock
	student  user.User
}

func newExamTestEnv(t *testing.T) examTestEnv {
	conf := core.NewTestConfig()
	logger := testutil.NewLogger(conf)
	core.ParseEmailTemplates(logger, true)

	db := inmemdb.Open()
	env := examTestEnv{
		examRepo: inmemdb.NewExamRepository(db),
		userRepo: inmemdb.NewUserRepository(db),
		mailSvc:  emailsvc.NewConsoleServiceMock(conf, logger),
	}
	userSvc := user.NewService(env.userRepo, env.mailSvc, conf)
	env.svc = exam.NewService(env.examRepo, inmemdb.NewResultRepository(db), userSvc, env.mailSvc, logger)
	env.student = testutil.CreateUser(t, env.userRepo, "Jane", "jane", "jane@test.cd", "", []string{user.RoleStudent}, true)
	return env
}

func TestService_Submit(t *testing.T) {
	env := newExamTestEnv(t)
	ctx := context.Background()
	ex := testutil.CreateExam(t, env.examRepo, "Maths", true, 1, 0, 2)

	completedAt := time.Date(2024, time.March, 4, 9, 30, 0, 0, time.FixedZone("WAT", 3600))
	exam.NowFunc = func() time.Time { return completedAt }
	defer func() { exam.NowFunc = time.Now }()

	res, err := env.svc.Submit(ctx, exam.Submission{
		ExamID:    ex.ID,
		StudentID: env.student.ID,
		Answers:   []exam.Answer{1, 2, 2},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 2, res.Score)
	assert.Equal(t, 3, res.TotalQuestions)
	assert.True(t, res.IsPassed)
	assert.Equal(t, completedAt.UTC(), res.CompletedAt)
	assert.Equal(t, time.UTC, res.CompletedAt.Location())

	stored, err := env.svc.GetResult(ctx, ex.ID, env.student.ID)
	require.NoError(t, err)
	assert.Equal(t, res, stored)

	sent := env.mailSvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "jane@test.cd", sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "Score: 2/3")

	// a second submission is a conflict and leaves the first result untouched
	_, err = env.svc.Submit(ctx, exam.Submission{
		ExamID:    ex.ID,
		StudentID: env.student.ID,
		Answers:   []exam.Answer{1, 0, 2},
	})
	require.Error(t, err)
	assert.True(t, core.IsConflict(err))
	assert.True(t, errors.Is(err, exam.ErrDuplicateSubmission))

	stored, err = env.svc.GetResult(ctx, ex.ID, env.student.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Score)
	assert.Len(t, env.mailSvc.SentMessages(), 1)
}

func TestService_Submit_Errors(t *testing.T) {
	env := newExamTestEnv(t)
	ctx := context.Background()
	inactive := testutil.CreateExam(t, env.examRepo, "Inactive", false, 0, 1)

	tests := []struct {
		name    string
		sub     exam.Submission
		wantErr error
		isValid bool // the error is a core.ValidationError
	}{
		{
			name:    "unknown exam",
			sub:     exam.Submission{ExamID: "nope", StudentID: env.student.ID},
			wantErr: exam.ErrNotFound,
		},
		{
			name:    "inactive exam",
			sub:     exam.Submission{ExamID: inactive.ID, StudentID: env.student.ID, Answers: []exam.Answer{0, 1}},
			wantErr: exam.ErrExamInactive,
			isValid: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Submit(ctx, tt.sub)
			require.Error(t, err)
			var vErr *core.ValidationError
			assert.Equal(t, tt.isValid, errors.As(err, &vErr))
			assert.True(t, errors.Is(err, tt.wantErr))
		})
	}

	results, err := env.svc.QueryResults(ctx, exam.ResultFilter{StudentID: env.student.ID})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, env.mailSvc.SentMessages())
}

func TestService_Submit_Concurrent(t *testing.T) {
	env := newExamTestEnv(t)
	ctx := context.Background()
	ex := testutil.CreateExam(t, env.examRepo, "Maths", true, 1, 0, 2)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Submit(ctx, exam.Submission{
				ExamID:    ex.ID,
				StudentID: env.student.ID,
				Answers:   []exam.Answer{1, 0, 2},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if core.IsConflict(err) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 19, conflicts)
	results, err := env.svc.QueryResults(ctx, exam.ResultFilter{ExamID: ex.ID})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestService_Submit_MissingStudentStillRecords(t *testing.T) {
	env := newExamTestEnv(t)
	ctx := context.Background()
	ex := testutil.CreateExam(t, env.examRepo, "Maths", true, 0)

	res, err := env.svc.Submit(ctx, exam.Submission{ExamID: ex.ID, StudentID: "ghost", Answers: []exam.Answer{0}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Score)
	assert.Empty(t, env.mailSvc.SentMessages())
}

func TestService_Update(t *testing.T) {
	env := newExamTestEnv(t)
	ctx := context.Background()
	validate, _ := testutil.NewValidator()
	ex := testutil.CreateExam(t, env.examRepo, "Maths", true, 1, 0)

	// content of an active exam is frozen
	ue := exam.UpdateExam{Title: "Algebra"}
	err := ue.Validate(ex, validate)
	assert.True(t, errors.Is(err, exam.ErrExamActive))

	// but it can be deactivated
	ue = exam.UpdateExam{IsActive: core.BoolPtr(false)}
	require.NoError(t, ue.Validate(ex, validate))
	ex, err = env.svc.Update(ctx, ex, ue)
	require.NoError(t, err)
	assert.False(t, ex.IsActive)
	assert.Equal(t, "Maths", ex.Title)

	ue = exam.UpdateExam{Title: "Algebra", PassingScore: core.IntPtr(2)}
	require.NoError(t, ue.Validate(ex, validate))
	ex, err = env.svc.Update(ctx, ex, ue)
	require.NoError(t, err)
	assert.Equal(t, "Algebra", ex.Title)
	assert.Equal(t, 2, ex.PassingThreshold())

	stored, err := env.svc.GetByID(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, ex, stored)
}
