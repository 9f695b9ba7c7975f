package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/masomo-portal/apps/api/echo"
	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/attendance"
	"github.com/trezcool/masomo-portal/core/exam"
	"github.com/trezcool/masomo-portal/core/user"
	emailsvc "github.com/trezcool/masomo-portal/services/email"
	inmemdb "github.com/trezcool/masomo-portal/storage/database/inmem"
	testutil "github.com/trezcool/masomo-portal/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testEnv struct {
	conf     *core.Config
	app      echoapi.Server
	usrRepo  user.Repository
	examRepo exam.Repository
	attRepo  attendance.Repository
	mailSvc  *emailsvc.ConsoleServiceMock
}

// setup wires a server over a fresh in-memory database.
func setup(t *testing.T) *testEnv {
	conf := core.NewTestConfig()
	logger := testutil.NewLogger(conf)
	core.ParseEmailTemplates(logger, true)
	validate, translator := testutil.NewValidator()

	db := inmemdb.Open()
	env := &testEnv{
		conf:     conf,
		usrRepo:  inmemdb.NewUserRepository(db),
		examRepo: inmemdb.NewExamRepository(db),
		attRepo:  inmemdb.NewAttendanceRepository(db),
		mailSvc:  emailsvc.NewConsoleServiceMock(conf, logger),
	}
	usrSvc := user.NewService(env.usrRepo, env.mailSvc, conf)
	examSvc := exam.NewService(env.examRepo, inmemdb.NewResultRepository(db), usrSvc, env.mailSvc, logger)
	attSvc := attendance.NewService(env.attRepo, usrSvc, attendance.Week)

	env.app = echoapi.NewServer(echoapi.ServerDeps{
		Conf:           conf,
		Logger:         logger,
		UserSvc:        usrSvc,
		ExamSvc:        examSvc,
		AttendanceSvc:  attSvc,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
	return env
}

func (env *testEnv) getToken(t *testing.T, usr user.User) string {
	token, err := echoapi.GenerateToken(env.conf, echoapi.GetUserClaims(env.conf, usr))
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

// serve runs tt against the app and checks the response code (and data, when set).
func (env *testEnv) serve(t *testing.T, tt httpTest) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
	env.app.ServeHTTP(rec, req)
	if tt.wantData != nil {
		checkCodeAndData(t, tt, rec)
	} else {
		assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	}
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj(): %v", err)
	}
	return data
}

func marshalList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	return marshalObj(t, objs)
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal(%s): %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
