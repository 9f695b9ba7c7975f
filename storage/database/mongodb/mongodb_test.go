package mongodb

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/attendance"
	"github.com/trezcool/masomo-portal/core/exam"
	"github.com/trezcool/masomo-portal/core/user"
)

// openTestStore connects to TEST_MONGO_URI on a throwaway database.
func openTestStore(t *testing.T) *Store {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	conf := core.NewTestConfig()
	conf.Database.MongoURI = uri
	conf.Database.Name = "masomo_test_" + strconv.FormatInt(time.Now().UnixNano(), 10)
	conf.Database.Timeout = 5 * time.Second

	ctx := context.Background()
	store, err := Open(ctx, conf)
	require.NoError(t, err)
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.EnsureIndexes(ctx))
	t.Cleanup(func() {
		_ = store.Database().Drop(context.Background())
		_ = store.Close()
	})
	return store
}

func TestUserRepository(t *testing.T) {
	store := openTestStore(t)
	repo := NewUserRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	jane, err := repo.CreateUser(ctx, user.User{Name: "Jane", Username: "jane", Email: "jane@test.cd", IsActive: true, Roles: []string{user.RoleStudent}, CreatedAt: now})
	require.NoError(t, err)
	john, err := repo.CreateUser(ctx, user.User{Name: "John", Roles: []string{user.RoleAdmin}, CreatedAt: now.Add(time.Hour)})
	require.NoError(t, err)
	_, err = repo.CreateUser(ctx, user.User{Name: "Anon", CreatedAt: now})
	require.NoError(t, err, "users without username/email do not collide")

	_, err = repo.CreateUser(ctx, user.User{Name: "Jane 2", Username: "jane"})
	assert.Equal(t, user.ErrUsernameExists, err)
	_, err = repo.CreateUser(ctx, user.User{Name: "Jane 3", Email: "jane@test.cd"})
	assert.Equal(t, user.ErrEmailExists, err)
	assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "jane", "jane@test.cd", jane))

	got, err := repo.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{"jane"}})
	require.NoError(t, err)
	assert.Equal(t, jane.ID, got.ID)
	assert.Equal(t, now, got.CreatedAt)

	users, err := repo.QueryUsers(ctx, &user.QueryFilter{Roles: []string{"admin:"}}, nil)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, john.ID, users[0].ID)

	users, err = repo.QueryUsers(ctx, &user.QueryFilter{Search: "JAN"}, nil)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, jane.ID, users[0].ID)

	john.Username = "jane"
	_, err = repo.UpdateUser(ctx, john)
	assert.Equal(t, user.ErrUsernameExists, err)
	_, err = repo.UpdateUser(ctx, user.User{ID: "nope"})
	assert.Equal(t, user.ErrNotFound, err)
}

func TestResultRepository_CreateResultIsAtMostOnce(t *testing.T) {
	store := openTestStore(t)
	repo := NewResultRepository(store)
	ctx := context.Background()

	res := exam.Result{
		ExamID:         "e1",
		StudentID:      "s1",
		Score:          1,
		TotalQuestions: 2,
		Answers:        []exam.Answer{1, exam.Unanswered},
		DetailedQuestions: []exam.DetailedQuestion{
			{QuestionText: "1+1", Options: []string{"1", "2"}, CorrectIndex: 1, SelectedIndex: 1, IsCorrect: true},
			{QuestionText: "2+2", Options: []string{"4", "5"}, CorrectIndex: 0, SelectedIndex: exam.Unanswered},
		},
		CompletedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CreateResult(ctx, res)
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

	stored, err := repo.GetResult(ctx, "e1", "s1")
	require.NoError(t, err)
	assert.Equal(t, res.Answers, stored.Answers)
	assert.Equal(t, res.DetailedQuestions, stored.DetailedQuestions)
	assert.Equal(t, res.CompletedAt, stored.CompletedAt)
}

func TestAttendanceRepository(t *testing.T) {
	store := openTestStore(t)
	repo := NewAttendanceRepository(store)
	ctx := context.Background()

	base := time.Date(2024, time.March, 2, 10, 0, 0, 0, time.UTC)
	for _, rec := range []attendance.Record{
		{StudentID: "s1", PeriodKey: "2024-W10", Granularity: attendance.Week, MarkedAt: base, Present: true},
		{StudentID: "s2", PeriodKey: "2024-W10", Granularity: attendance.Week, MarkedAt: base.Add(time.Hour)},
		{StudentID: "s1", PeriodKey: "2024-W11", Granularity: attendance.Week, MarkedAt: base.Add(7 * 24 * time.Hour), Present: true},
	} {
		_, err := repo.CreateRecord(ctx, rec)
		require.NoError(t, err)
	}
	_, err := repo.CreateRecord(ctx, attendance.Record{StudentID: "s1", PeriodKey: "2024-W10"})
	assert.Equal(t, attendance.ErrAlreadyMarked, err)

	n, err := repo.CountRecords(ctx, &attendance.QueryFilter{StudentID: "s1", Present: core.BoolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := repo.QueryRecords(ctx, &attendance.QueryFilter{StudentID: "s1"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2024-W11", recs[0].PeriodKey)

	deleted, err := repo.DeleteRecords(ctx, attendance.ResetFilter{PeriodKey: "2024-W10"})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	deleted, err = repo.DeleteRecords(ctx, attendance.ResetFilter{PeriodKey: "2024-W10"})
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
