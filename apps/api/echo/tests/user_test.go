package tests

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-portal/apps/api/echo"
	"github.com/trezcool/masomo-portal/core/user"
	testutil "github.com/trezcool/masomo-portal/tests"
)

func Test_userApi_login(t *testing.T) {
	env := setup(t)

	testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "Passw0rd!", []string{user.RoleStudent}, true)
	testutil.CreateUser(t, env.usrRepo, "N Dog", "ndog", "ndog@test.cd", "Passw0rd!", []string{user.RoleStudent}, false)

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, echoapi.LoginRequest{Username: "this field is required", Password: "this field is required"}),
		},
		{
			name: "unknown user", body: marshalObj(t, echoapi.LoginRequest{Username: "nope", Password: "Passw0rd!"}),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", body: marshalObj(t, echoapi.LoginRequest{Username: "hero", Password: "nope"}),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated", body: marshalObj(t, echoapi.LoginRequest{Username: "ndog", Password: "Passw0rd!"}),
			wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "by username", body: marshalObj(t, echoapi.LoginRequest{Username: " HERO ", Password: "Passw0rd!"}), wantCode: http.StatusOK},
		{name: "by email", body: marshalObj(t, echoapi.LoginRequest{Username: "hero@test.cd", Password: "Passw0rd!"}), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/login"

		t.Run(tt.name, func(t *testing.T) {
			rec := env.serve(t, tt)
			if tt.wantCode == http.StatusOK {
				var resp echoapi.LoginResponse
				unmarshal(t, rec, &resp)
				assert.NotEmpty(t, resp.Token)
			}
		})
	}
}

func Test_userApi_query(t *testing.T) {
	env := setup(t)

	now := time.Now().UTC()
	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true, now)
	naughty := testutil.CreateUser(t, env.usrRepo, "N Dog", "ndog", "ndog@test.cd", "", []string{user.RoleStudent}, false, now.Add(time.Hour))
	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true, now.Add(2*time.Hour))
	owner := testutil.CreateUser(t, env.usrRepo, "Owner", "owner", "owner@test.cd", "", []string{user.RoleAdminOwner}, true, now.Add(3*time.Hour))

	adminToken := env.getToken(t, admin)
	path := func(v url.Values) string { return "/v1/users?" + v.Encode() }

	tests := []httpTest{
		{name: "auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{
			name: "admin required", path: "/v1/users", token: env.getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "get all", path: "/v1/users", token: adminToken, wantData: marshalList(t, owner, admin, naughty, student)},
		{name: "search (unknown)", path: path(url.Values{"search": {"lol"}}), token: adminToken, wantData: marshalList(t)},
		{name: "search=DOG", path: path(url.Values{"search": {"DOG"}}), token: adminToken, wantData: marshalList(t, naughty)},
		{name: "role=admin:", path: path(url.Values{"role": {user.RoleAdmin}}), token: adminToken, wantData: marshalList(t, owner, admin)},
		{name: "is_active=false", path: path(url.Values{"is_active": {"false"}}), token: adminToken, wantData: marshalList(t, naughty)},
		{
			name: "created_from", path: path(url.Values{"created_from": {now.Add(90 * time.Minute).Format(time.RFC3339)}}),
			token: adminToken, wantData: marshalList(t, owner, admin),
		},
		{
			name: "invalid is_active", path: path(url.Values{"is_active": {"lol"}}), token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"is_active": "invalid boolean"}),
		},
		{name: "order by name", path: path(url.Values{"ordering": {"name"}}), token: adminToken, wantData: marshalList(t, admin, student, naughty, owner)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			env.serve(t, tt)
		})
	}
}

func Test_userApi_register(t *testing.T) {
	env := setup(t)

	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	adminToken := env.getToken(t, admin)

	newStudent := user.NewUser{
		Name:            "Jane",
		Username:        "jane",
		Email:           "jane@test.cd",
		Password:        "Passw0rd!",
		PasswordConfirm: "Passw0rd!",
		Roles:           []string{user.RoleStudent},
	}
	owner := newStudent
	owner.Username, owner.Email, owner.Roles = "boss", "boss@test.cd", []string{user.RoleAdminOwner}
	taken := newStudent
	taken.Email = "other@test.cd"

	tests := []httpTest{
		{name: "admin required", token: env.getToken(t, student), body: marshalObj(t, newStudent), wantCode: http.StatusForbidden},
		{
			name: "cannot grant a higher role", token: adminToken, body: marshalObj(t, owner),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"roles": "not enough rights to set these roles"}),
		},
		{name: "created", token: adminToken, body: marshalObj(t, newStudent), wantCode: http.StatusCreated},
		{
			name: "username taken", token: adminToken, body: marshalObj(t, taken),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"username": user.ErrUsernameExists.Error()}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/register"

		t.Run(tt.name, func(t *testing.T) {
			rec := env.serve(t, tt)
			if tt.wantCode == http.StatusCreated {
				var usr user.User
				unmarshal(t, rec, &usr)
				assert.NotEmpty(t, usr.ID)
				assert.True(t, usr.IsStudent())
				assert.Equal(t, "jane", usr.Username)
			}
		})
	}
}

func Test_userApi_detail(t *testing.T) {
	env := setup(t)

	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	hero := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	jane := testutil.CreateUser(t, env.usrRepo, "Jane", "jane", "jane@test.cd", "", []string{user.RoleStudent}, true)

	tests := []httpTest{
		{name: "self", method: http.MethodGet, path: "/v1/users/" + hero.ID, token: env.getToken(t, hero), wantCode: http.StatusOK, wantData: marshalObj(t, hero)},
		{name: "other student hidden", method: http.MethodGet, path: "/v1/users/" + jane.ID, token: env.getToken(t, hero), wantCode: http.StatusNotFound},
		{name: "admin", method: http.MethodGet, path: "/v1/users/" + jane.ID, token: env.getToken(t, admin), wantCode: http.StatusOK, wantData: marshalObj(t, jane)},
		{
			name: "student cannot change own roles", method: http.MethodPut, path: "/v1/users/" + hero.ID, token: env.getToken(t, hero),
			body: marshalObj(t, map[string]interface{}{"roles": []string{user.RoleAdmin}}), wantCode: http.StatusForbidden,
		},
		{
			name: "student renames self", method: http.MethodPut, path: "/v1/users/" + hero.ID, token: env.getToken(t, hero),
			body: marshalObj(t, map[string]interface{}{"name": "Super Hero"}), wantCode: http.StatusOK,
		},
		{name: "admin cannot delete self", method: http.MethodDelete, path: "/v1/users/" + admin.ID, token: env.getToken(t, admin), wantCode: http.StatusForbidden},
		{name: "student cannot delete", method: http.MethodDelete, path: "/v1/users/" + hero.ID, token: env.getToken(t, hero), wantCode: http.StatusForbidden},
		{name: "admin deletes student", method: http.MethodDelete, path: "/v1/users/" + jane.ID, token: env.getToken(t, admin), wantCode: http.StatusNoContent},
		{name: "deleted", method: http.MethodGet, path: "/v1/users/" + jane.ID, token: env.getToken(t, admin), wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.serve(t, tt)
		})
	}
}

func Test_userApi_refreshToken(t *testing.T) {
	env := setup(t)

	naughty := testutil.CreateUser(t, env.usrRepo, "N Dog", "ndog", "ndog@test.cd", "", []string{user.RoleStudent}, false)
	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)

	now := time.Now()
	unrefreshable := echoapi.GetUserClaims(env.conf, student)
	unrefreshable.OrigIssuedAt = now.Add(-2 * env.conf.Server.JWTRefreshExpirationDelta).Unix() // older than threshold
	unrefreshableToken, err := echoapi.GenerateToken(env.conf, unrefreshable)
	require.NoError(t, err)

	expired := echoapi.GetUserClaims(env.conf, student)
	expired.StandardClaims = jwt.StandardClaims{Subject: student.ID, ExpiresAt: now.Add(-time.Minute).Unix()}
	expiredToken, err := echoapi.GenerateToken(env.conf, expired)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "expired token", token: expiredToken, wantCode: http.StatusUnauthorized},
		{name: "inactive user not allowed", token: env.getToken(t, naughty), wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "account deactivated"})},
		{name: "refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "refresh has expired"})},
		{name: "token refreshed", token: env.getToken(t, student), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			rec := env.serve(t, tt)
			// cannot guess new token.. just check that it's not empty
			if tt.wantCode == http.StatusOK {
				var resp echoapi.LoginResponse
				unmarshal(t, rec, &resp)
				assert.NotEmpty(t, resp.Token)
			}
		})
	}
}

func Test_userApi_passwordReset(t *testing.T) {
	env := setup(t)

	student := testutil.CreateUser(t, env.usrRepo, "Hero", "hero", "hero@test.cd", "Passw0rd!", []string{user.RoleStudent}, true)
	successData := marshalObj(t, echoapi.SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})

	tests := []struct {
		httpTest
		emailSent bool
	}{
		{httpTest: httpTest{name: "required fields", wantCode: http.StatusBadRequest, wantData: marshalObj(t, echoapi.PasswordResetRequest{Email: "this field is required"})}},
		{httpTest: httpTest{
			name: "invalid email", body: marshalObj(t, echoapi.PasswordResetRequest{Email: "lol"}),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, echoapi.PasswordResetRequest{Email: "email must be a valid email address"}),
		}},
		{httpTest: httpTest{name: "unknown email", body: marshalObj(t, echoapi.PasswordResetRequest{Email: "lol@test.cd"}), wantCode: http.StatusOK, wantData: successData}},
		{httpTest: httpTest{name: "known email", body: marshalObj(t, echoapi.PasswordResetRequest{Email: student.Email}), wantCode: http.StatusOK, wantData: successData}, emailSent: true},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/password-reset"

		t.Run(tt.name, func(t *testing.T) {
			env.mailSvc.Reset()
			env.serve(t, tt.httpTest)
			sent := env.mailSvc.SentMessages()
			if !tt.emailSent {
				assert.Empty(t, sent)
				return
			}
			require.Len(t, sent, 1)
			assert.Equal(t, student.Email, sent[0].To[0].Address)
		})
	}

	// confirm with the emailed uid & token
	sent := env.mailSvc.SentMessages()
	require.Len(t, sent, 1)
	data := user.ResetUserPassword{
		UID:             sent[0].TemplateData.(map[string]interface{})["UID"].(string),
		Token:           sent[0].TemplateData.(map[string]interface{})["Token"].(string),
		Password:        "n3w-Passw0rd!",
		PasswordConfirm: "n3w-Passw0rd!",
	}
	confirm := httpTest{method: http.MethodPost, path: "/v1/users/password-reset-confirm"}

	bad := data
	bad.Token += "x"
	confirm.body, confirm.wantCode = marshalObj(t, bad), http.StatusBadRequest
	confirm.wantData = marshalObj(t, httpErr{Error: user.ErrInvalidReset.Error()})
	env.serve(t, confirm)

	confirm.body, confirm.wantCode, confirm.wantData = marshalObj(t, data), http.StatusOK, nil
	env.serve(t, confirm)

	login := httpTest{
		method: http.MethodPost, path: "/v1/users/login", wantCode: http.StatusOK,
		body: marshalObj(t, echoapi.LoginRequest{Username: "hero", Password: "n3w-Passw0rd!"}),
	}
	env.serve(t, login)
}
