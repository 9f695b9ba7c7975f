package sqlxrepos_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/attendance"
	"github.com/trezcool/masomo-portal/core/exam"
	"github.com/trezcool/masomo-portal/core/user"
	"github.com/trezcool/masomo-portal/storage/database"
	sqlxrepos "github.com/trezcool/masomo-portal/storage/database/sqlx"
)

// openTestDB connects to TEST_DATABASE_URL, migrates it and empties the tables.
func openTestDB(t *testing.T) *sqlx.DB {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(db.DB, "up"))
	_, err = db.Exec("TRUNCATE users, exams, exam_results, attendance_records")
	require.NoError(t, err)
	return db
}

func TestUserRepository(t *testing.T) {
	db := openTestDB(t)
	repo := sqlxrepos.NewUserRepository(db, time.Second)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	jane, err := repo.CreateUser(ctx, user.User{Name: "Jane", Username: "jane", Email: "jane@test.cd", IsActive: true, Roles: []string{user.RoleStudent}, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	john, err := repo.CreateUser(ctx, user.User{Name: "John", Roles: []string{user.RoleAdminOwner}, CreatedAt: now.Add(time.Hour), UpdatedAt: now})
	require.NoError(t, err)

	// users without username/email do not collide
	_, err = repo.CreateUser(ctx, user.User{Name: "Anon", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, user.User{Name: "Jane 2", Username: "jane", CreatedAt: now, UpdatedAt: now})
	assert.Equal(t, user.ErrUsernameExists, err)
	_, err = repo.CreateUser(ctx, user.User{Name: "Jane 3", Email: "jane@test.cd", CreatedAt: now, UpdatedAt: now})
	assert.Equal(t, user.ErrEmailExists, err)
	assert.Equal(t, user.ErrEmailExists, repo.CheckUsernameUniqueness(ctx, "other", "jane@test.cd"))
	assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "jane", "jane@test.cd", jane))

	got, err := repo.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{"jane@test.cd"}})
	require.NoError(t, err)
	assert.Equal(t, jane.ID, got.ID)
	assert.Equal(t, jane.Roles, got.Roles)
	assert.Equal(t, jane.CreatedAt, got.CreatedAt)
	_, err = repo.GetUser(ctx, user.GetFilter{ID: "not-a-uuid"})
	assert.Equal(t, user.ErrNotFound, err)

	users, err := repo.QueryUsers(ctx, &user.QueryFilter{Roles: []string{"admin:"}}, nil)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, john.ID, users[0].ID)

	users, err = repo.QueryUsers(ctx, &user.QueryFilter{Search: "JAN", IsActive: core.BoolPtr(true)}, []core.DBOrdering{{Field: "name", Ascending: true}})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, jane.ID, users[0].ID)

	jane.LastLogin = now.Add(time.Minute)
	jane, err = repo.UpdateUser(ctx, jane)
	require.NoError(t, err)
	got, err = repo.GetUser(ctx, user.GetFilter{ID: jane.ID})
	require.NoError(t, err)
	assert.Equal(t, jane.LastLogin, got.LastLogin)

	require.NoError(t, repo.DeleteUsersByID(ctx, jane.ID, john.ID))
	_, err = repo.GetUser(ctx, user.GetFilter{ID: jane.ID})
	assert.Equal(t, user.ErrNotFound, err)
}

func TestExamAndResultRepositories(t *testing.T) {
	db := openTestDB(t)
	examRepo := sqlxrepos.NewExamRepository(db, time.Second)
	resultRepo := sqlxrepos.NewResultRepository(db, time.Second)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	ex, err := examRepo.CreateExam(ctx, exam.Exam{
		Title:           "Maths",
		Subject:         "maths",
		DurationMinutes: 30,
		Questions: []exam.Question{
			{Text: "1+1", Options: []string{"1", "2"}, CorrectOptionIndex: 1},
			{Text: "2+2", Options: []string{"4", "5"}, CorrectOptionIndex: 0},
		},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	got, err := examRepo.GetExam(ctx, ex.ID)
	require.NoError(t, err)
	assert.Equal(t, ex, got)

	res, err := exam.Score(ex, exam.Submission{ExamID: ex.ID, StudentID: "s1", Answers: []exam.Answer{1, exam.Unanswered}})
	require.NoError(t, err)
	res.CompletedAt = now

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := resultRepo.CreateResult(ctx, res)
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else {
				assert.Equal(t, exam.ErrDuplicateSubmission, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)

	stored, err := resultRepo.GetResult(ctx, ex.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Score)
	assert.Equal(t, []exam.Answer{1, exam.Unanswered}, stored.Answers)
	assert.Equal(t, res.DetailedQuestions, stored.DetailedQuestions)

	// results outlive their exam
	require.NoError(t, examRepo.DeleteExamsByID(ctx, ex.ID))
	_, err = examRepo.GetExam(ctx, ex.ID)
	assert.Equal(t, exam.ErrNotFound, err)
	results, err := resultRepo.QueryResults(ctx, exam.ResultFilter{StudentID: "s1"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestAttendanceRepository(t *testing.T) {
	db := openTestDB(t)
	repo := sqlxrepos.NewAttendanceRepository(db, time.Second)
	ctx := context.Background()

	base := time.Date(2024, time.March, 2, 10, 0, 0, 0, time.UTC)
	for _, rec := range []attendance.Record{
		{StudentID: "s1", PeriodKey: "2024-W10", Granularity: attendance.Week, MarkedAt: base, Present: true},
		{StudentID: "s2", PeriodKey: "2024-W10", Granularity: attendance.Week, MarkedAt: base.Add(time.Hour), Present: false, Note: "sick"},
		{StudentID: "s1", PeriodKey: "2024-W11", Granularity: attendance.Week, MarkedAt: base.Add(7 * 24 * time.Hour), Present: true},
	} {
		_, err := repo.CreateRecord(ctx, rec)
		require.NoError(t, err)
	}
	_, err := repo.CreateRecord(ctx, attendance.Record{StudentID: "s1", PeriodKey: "2024-W10", Granularity: attendance.Week, MarkedAt: base})
	assert.Equal(t, attendance.ErrAlreadyMarked, err)

	n, err := repo.CountRecords(ctx, &attendance.QueryFilter{StudentID: "s1", Present: core.BoolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := repo.QueryRecords(ctx, &attendance.QueryFilter{PeriodKey: "2024-W10"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "s2", recs[0].StudentID)
	assert.Equal(t, "sick", recs[0].Note)

	deleted, err := repo.DeleteRecords(ctx, attendance.ResetFilter{PeriodKey: "2024-W10", StudentIDs: []string{"s1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	deleted, err = repo.DeleteRecords(ctx, attendance.ResetFilter{PeriodKey: "2024-W10", StudentIDs: []string{"s1"}})
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
