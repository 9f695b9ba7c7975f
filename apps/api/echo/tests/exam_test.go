package tests

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-portal/apps/api/echo"
	"github.com/trezcool/masomo-portal/core/exam"
	"github.com/trezcool/masomo-portal/core/user"
	testutil "github.com/trezcool/masomo-portal/tests"
)

func Test_examApi_create(t *testing.T) {
	env := setup(t)

	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	adminToken := env.getToken(t, admin)

	valid := exam.NewExam{
		Title:           "Algebra",
		Subject:         "Maths",
		DurationMinutes: 45,
		Questions: []exam.Question{
			{Text: "1+1", Options: []string{"1", "2"}, CorrectOptionIndex: 1},
			{Text: "2*3", Options: []string{"5", "6", "7"}, CorrectOptionIndex: 1},
		},
		IsActive: true,
	}
	badIndex := valid
	badIndex.Questions = []exam.Question{{Text: "1+1", Options: []string{"1", "2"}, CorrectOptionIndex: 2}}

	tests := []httpTest{
		{name: "auth required", body: marshalObj(t, valid), wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "admin required", token: env.getToken(t, student), body: marshalObj(t, valid), wantCode: http.StatusForbidden},
		{name: "no questions", token: adminToken, body: marshalObj(t, exam.NewExam{Title: "T", Subject: "S", DurationMinutes: 5}), wantCode: http.StatusBadRequest},
		{
			name: "correct index out of range", token: adminToken, body: marshalObj(t, badIndex), wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"correct_option_index": "the correct option index must point to one of the options"}),
		},
		{name: "created", token: adminToken, body: marshalObj(t, valid), wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/exams"

		t.Run(tt.name, func(t *testing.T) {
			rec := env.serve(t, tt)
			if tt.wantCode == http.StatusCreated {
				var ex exam.Exam
				unmarshal(t, rec, &ex)
				assert.NotEmpty(t, ex.ID)
				assert.Equal(t, admin.ID, ex.CreatedBy)
				assert.Equal(t, valid.Questions, ex.Questions)
			}
		})
	}
}

func Test_examApi_studentView(t *testing.T) {
	env := setup(t)

	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	active := testutil.CreateExam(t, env.examRepo, "Active", true, 0, 1)
	draft := testutil.CreateExam(t, env.examRepo, "Draft", false, 2)

	tests := []httpTest{
		{name: "student list: active only, no answer key", method: http.MethodGet, path: "/v1/exams", token: env.getToken(t, student), wantCode: http.StatusOK, wantData: marshalList(t, active.StudentView())},
		{name: "admin list", method: http.MethodGet, path: "/v1/exams?ordering=title", token: env.getToken(t, admin), wantCode: http.StatusOK, wantData: marshalList(t, active, draft)},
		{name: "student detail", method: http.MethodGet, path: "/v1/exams/" + active.ID, token: env.getToken(t, student), wantCode: http.StatusOK, wantData: marshalObj(t, active.StudentView())},
		{name: "student cannot see drafts", method: http.MethodGet, path: "/v1/exams/" + draft.ID, token: env.getToken(t, student), wantCode: http.StatusNotFound},
		{name: "unknown exam", method: http.MethodGet, path: "/v1/exams/nope", token: env.getToken(t, admin), wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.serve(t, tt)
		})
	}

	studentToken := env.getToken(t, student)
	for _, path := range []string{"/v1/exams", "/v1/exams/" + active.ID} {
		rec := env.serve(t, httpTest{method: http.MethodGet, path: path, token: studentToken, wantCode: http.StatusOK})
		assert.NotContains(t, rec.Body.String(), "correct_option_index")
	}
}

func Test_examApi_update(t *testing.T) {
	env := setup(t)

	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	ex := testutil.CreateExam(t, env.examRepo, "Maths", true, 1, 0)
	adminToken := env.getToken(t, admin)
	path := "/v1/exams/" + ex.ID

	tests := []httpTest{
		{
			name: "active exam content is frozen", body: marshalObj(t, map[string]interface{}{"title": "New title"}),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, httpErr{Error: exam.ErrExamActive.Error()}),
		},
		{name: "deactivate", body: marshalObj(t, map[string]interface{}{"is_active": false}), wantCode: http.StatusOK},
		{name: "edit inactive exam", body: marshalObj(t, map[string]interface{}{"title": "New title"}), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPut
		tt.path = path
		tt.token = adminToken

		t.Run(tt.name, func(t *testing.T) {
			env.serve(t, tt)
		})
	}

	rec := env.serve(t, httpTest{method: http.MethodGet, path: path, token: adminToken, wantCode: http.StatusOK})
	var got exam.Exam
	unmarshal(t, rec, &got)
	assert.Equal(t, "New title", got.Title)
	assert.False(t, got.IsActive)

	env.serve(t, httpTest{method: http.MethodDelete, path: path, token: adminToken, wantCode: http.StatusNoContent})
	env.serve(t, httpTest{method: http.MethodGet, path: path, token: adminToken, wantCode: http.StatusNotFound})
}

func Test_examApi_submit(t *testing.T) {
	env := setup(t)

	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	hero := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	jane := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.cd", "", []string{user.RoleStudent}, true)
	ex := testutil.CreateExam(t, env.examRepo, "Maths", true, 1, 0, 2)
	draft := testutil.CreateExam(t, env.examRepo, "Draft", false, 1)
	heroToken := env.getToken(t, hero)

	submit := func(answers ...interface{}) []byte {
		return marshalObj(t, map[string]interface{}{"answers": answers})
	}

	tests := []httpTest{
		{name: "auth required", path: "/v1/exams/" + ex.ID + "/submit", body: submit(1, 0, 2), wantCode: http.StatusUnauthorized},
		{name: "students only", path: "/v1/exams/" + ex.ID + "/submit", token: env.getToken(t, admin), body: submit(1, 0, 2), wantCode: http.StatusForbidden},
		{
			name: "cannot submit for another student", path: "/v1/exams/" + ex.ID + "/submit", token: heroToken,
			body: marshalObj(t, map[string]interface{}{"student_id": jane.ID, "answers": []int{1, 0, 2}}), wantCode: http.StatusForbidden,
		},
		{name: "unknown exam", path: "/v1/exams/nope/submit", token: heroToken, body: submit(1), wantCode: http.StatusNotFound},
		{
			name: "inactive exam", path: "/v1/exams/" + draft.ID + "/submit", token: heroToken, body: submit(1),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, httpErr{Error: exam.ErrExamInactive.Error()}),
		},
		{name: "scored", path: "/v1/exams/" + ex.ID + "/submit", token: heroToken, body: submit(1, 2, nil), wantCode: http.StatusCreated},
		{
			name: "second submission conflicts", path: "/v1/exams/" + ex.ID + "/submit", token: heroToken, body: submit(1, 0, 2),
			wantCode: http.StatusConflict, wantData: marshalObj(t, httpErr{Error: exam.ErrDuplicateSubmission.Error()}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost

		t.Run(tt.name, func(t *testing.T) {
			env.mailSvc.Reset()
			rec := env.serve(t, tt)
			if tt.wantCode != http.StatusCreated {
				assert.Empty(t, env.mailSvc.SentMessages())
				return
			}

			var res exam.Result
			unmarshal(t, rec, &res)
			assert.Equal(t, 1, res.Score)
			assert.Equal(t, 3, res.TotalQuestions)
			assert.False(t, res.IsPassed)
			assert.Equal(t, []exam.Answer{1, 2, exam.Unanswered}, res.Answers)
			require.Len(t, res.DetailedQuestions, 3)
			assert.True(t, res.DetailedQuestions[0].IsCorrect)
			assert.Equal(t, exam.Unanswered, res.DetailedQuestions[2].SelectedIndex)
			assert.Contains(t, rec.Body.String(), `"selected_index":null`)

			sent := env.mailSvc.SentMessages()
			require.Len(t, sent, 1)
			assert.Equal(t, hero.Email, sent[0].To[0].Address)
		})
	}
}

func Test_examApi_submitConcurrently(t *testing.T) {
	env := setup(t)

	hero := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	ex := testutil.CreateExam(t, env.examRepo, "Maths", true, 1, 0)
	token := env.getToken(t, hero)
	body := marshalObj(t, echoapi.SubmitRequest{Answers: []exam.Answer{1, 0}})

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[int]int{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, rec := newAuthRequest(http.MethodPost, "/v1/exams/"+ex.ID+"/submit", token, body)
			env.app.ServeHTTP(rec, req)
			mu.Lock()
			codes[rec.Code]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, map[int]int{http.StatusCreated: 1, http.StatusConflict: 9}, codes)
}

func Test_examApi_results(t *testing.T) {
	env := setup(t)

	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	hero := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	jane := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.cd", "", []string{user.RoleStudent}, true)
	ex := testutil.CreateExam(t, env.examRepo, "Maths", true, 1, 0)

	rec := env.serve(t, httpTest{
		method: http.MethodPost, path: "/v1/exams/" + ex.ID + "/submit", token: env.getToken(t, hero),
		body: marshalObj(t, echoapi.SubmitRequest{Answers: []exam.Answer{1, 0}}), wantCode: http.StatusCreated,
	})
	var res exam.Result
	unmarshal(t, rec, &res)
	assert.True(t, res.IsPassed)

	base := "/v1/exams/" + ex.ID + "/results"
	tests := []httpTest{
		{name: "own result", path: base + "/" + hero.ID, token: env.getToken(t, hero), wantCode: http.StatusOK, wantData: marshalObj(t, res)},
		{name: "another student's result", path: base + "/" + hero.ID, token: env.getToken(t, jane), wantCode: http.StatusForbidden},
		{name: "not submitted yet", path: base + "/" + jane.ID, token: env.getToken(t, jane), wantCode: http.StatusNotFound},
		{name: "admin reads any result", path: base + "/" + hero.ID, token: env.getToken(t, admin), wantCode: http.StatusOK, wantData: marshalObj(t, res)},
		{name: "admin lists results", path: base, token: env.getToken(t, admin), wantCode: http.StatusOK, wantData: marshalList(t, res)},
		{name: "students cannot list results", path: base, token: env.getToken(t, hero), wantCode: http.StatusForbidden},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet

		t.Run(tt.name, func(t *testing.T) {
			env.serve(t, tt)
		})
	}
}

func Test_examApi_resultsAfterDelete(t *testing.T) {
	env := setup(t)

	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	hero := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	ex := testutil.CreateExam(t, env.examRepo, "Maths", true, 1, 0)
	adminToken := env.getToken(t, admin)

	rec := env.serve(t, httpTest{
		method: http.MethodPost, path: "/v1/exams/" + ex.ID + "/submit", token: env.getToken(t, hero),
		body: marshalObj(t, echoapi.SubmitRequest{Answers: []exam.Answer{1, 1}}), wantCode: http.StatusCreated,
	})
	var res exam.Result
	unmarshal(t, rec, &res)

	env.serve(t, httpTest{method: http.MethodDelete, path: "/v1/exams/" + ex.ID, token: adminToken, wantCode: http.StatusNoContent})

	base := "/v1/exams/" + ex.ID
	tests := []httpTest{
		{name: "exam is gone", path: base, token: adminToken, wantCode: http.StatusNotFound},
		{name: "own result", path: base + "/results/" + hero.ID, token: env.getToken(t, hero), wantCode: http.StatusOK, wantData: marshalObj(t, res)},
		{name: "admin reads the result", path: base + "/results/" + hero.ID, token: adminToken, wantCode: http.StatusOK, wantData: marshalObj(t, res)},
		{name: "admin lists results", path: base + "/results", token: adminToken, wantCode: http.StatusOK, wantData: marshalList(t, res)},
		{name: "unknown exam", path: "/v1/exams/nope/results/" + hero.ID, token: adminToken, wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet

		t.Run(tt.name, func(t *testing.T) {
			env.serve(t, tt)
		})
	}
}
