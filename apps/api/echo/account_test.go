package echoapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/roster"
	"github.com/hilcoe/rms/tests"
)

// A roster student proves who they are, registers, then signs in.
func Test_authApi_verifyThenRegister(t *testing.T) {
	env := setup(t)
	testutil.CreateEntry(t, env.stores.Roster, "RMS2025-001", "Rhea", "", "Researcher")

	verify := func(first, last, id string) []byte {
		return marchallObj(t, map[string]string{"first_name": first, "last_name": last, "student_id": id})
	}

	runHTTPTests(t, env, []httpTest{
		{
			name:     "unknown student",
			method:   http.MethodPost,
			path:     "/auth/verify",
			body:     verify("Rhea", "Researcher", "RMS2025-404"),
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "no roster entry matches this student ID", Reason: "not_found"}),
		},
		{
			name:     "name mismatch",
			method:   http.MethodPost,
			path:     "/auth/verify",
			body:     verify("Rhea", "Smith", "RMS2025-001"),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "the supplied name does not match the roster", Reason: "name_mismatch"}),
		},
		{
			name:     "missing names",
			method:   http.MethodPost,
			path:     "/auth/verify",
			body:     verify("", "", "RMS2025-001"),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"first_name": "this field is required",
				"last_name":  "this field is required",
			}),
		},
	})

	// verify
	req, rec := newRequest(http.MethodPost, "/auth/verify", verify("rhea", "RESEARCHER", "rms2025-001"))
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var verified struct {
		AlreadyRegistered bool   `json:"already_registered"`
		VerificationToken string `json:"verification_token"`
		ExpiresAt         string `json:"expires_at"`
		Student           struct {
			StudentID string `json:"student_id"`
			FirstName string `json:"first_name"`
		} `json:"student"`
	}
	unmarchall(t, rec, &verified)
	assert.False(t, verified.AlreadyRegistered)
	assert.NotEmpty(t, verified.VerificationToken)
	assert.NotEmpty(t, verified.ExpiresAt)
	assert.Equal(t, "RMS2025-001", verified.Student.StudentID)
	assert.Equal(t, "Rhea", verified.Student.FirstName)

	// register
	register := marchallObj(t, map[string]string{
		"verification_token": verified.VerificationToken,
		"email":              "rhea@test.et",
		"password":           testutil.Password,
	})
	req, rec = newRequest(http.MethodPost, "/auth/register", register)
	env.serve(req, rec)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var registered LoginResponse
	unmarchall(t, rec, &registered)
	assert.NotEmpty(t, registered.Token)
	require.NotNil(t, registered.Account)
	assert.Equal(t, account.RoleResearcher, registered.Account.Role)
	assert.Equal(t, "RMS2025-001", registered.Account.StudentID)
	assert.Equal(t, "Rhea Researcher", registered.Account.Name)

	runHTTPTests(t, env, []httpTest{
		{
			name:     "token is spent",
			method:   http.MethodPost,
			path:     "/auth/register",
			body:     register,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "verification token is invalid or already used", Reason: "token_invalid"}),
		},
		{
			name:     "verify again",
			method:   http.MethodPost,
			path:     "/auth/verify",
			body:     verify("Rhea", "Researcher", "RMS2025-001"),
			wantCode: http.StatusOK,
			wantData: []byte(`{"already_registered":true,"login_hint":"rhea@test.et"}`),
		},
		{
			name:     "me",
			method:   http.MethodGet,
			path:     "/auth/me",
			token:    registered.Token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, registered.Account),
		},
	})

	// login
	req, rec = newRequest(http.MethodPost, "/auth/login", marchallObj(t, LoginRequest{Email: "Rhea@test.et", Password: testutil.Password}))
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login LoginResponse
	unmarchall(t, rec, &login)
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, registered.Account.ID, login.Account.ID)
	assert.False(t, login.Account.LastLogin.IsZero())
}

func Test_authApi_register_expiredToken(t *testing.T) {
	env := setup(t, func(conf *core.Config) { conf.Verification.TokenTTL = -1 })
	testutil.CreateEntry(t, env.stores.Roster, "RMS2025-001", "Rhea", "", "Researcher")

	res, err := env.svcs.Roster.Verify(context.Background(), roster.VerifyRequest{FirstName: "Rhea", LastName: "Researcher", StudentID: "RMS2025-001"})
	require.NoError(t, err)

	runHTTPTests(t, env, []httpTest{
		{
			name:   "expired",
			method: http.MethodPost,
			path:   "/auth/register",
			body: marchallObj(t, map[string]string{
				"verification_token": res.VerificationToken, "email": "rhea@test.et", "password": testutil.Password,
			}),
			wantCode: http.StatusGone,
			wantData: marchallObj(t, httpErr{Error: "verification token expired, please verify again", Reason: "token_expired"}),
		},
	})
}

func Test_authApi_login(t *testing.T) {
	env := setup(t)
	env.createAccount(t, "Coordinator", "coord@test.et", account.RoleCoordinator)

	runHTTPTests(t, env, []httpTest{
		{
			name:     "missing credentials",
			method:   http.MethodPost,
			path:     "/auth/login",
			body:     []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": "this field is required", "password": "this field is required"}),
		},
		{
			name:     "wrong password",
			method:   http.MethodPost,
			path:     "/auth/login",
			body:     marchallObj(t, LoginRequest{Email: "coord@test.et", Password: "Wrong#pass1"}),
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "invalid credentials", Reason: "invalid_credential"}),
		},
		{
			name:     "unknown email",
			method:   http.MethodPost,
			path:     "/auth/login",
			body:     marchallObj(t, LoginRequest{Email: "ghost@test.et", Password: testutil.Password}),
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "invalid credentials", Reason: "invalid_credential"}),
		},
	})
}

func Test_authApi_me(t *testing.T) {
	env := setup(t)
	acc := env.createAccount(t, "Examiner", "examiner@test.et", account.RoleExaminer)
	token := env.getToken(t, acc)

	ghost := account.Account{ID: "0f8fad5b-d9cb-469f-a165-70867728950e", Name: "Ghost", Email: "ghost@test.et", Role: account.RoleAdmin}
	ghostToken := env.getToken(t, ghost)

	inactive := env.createAccount(t, "Inactive", "inactive@test.et", account.RoleExaminer)
	inactiveToken := env.getToken(t, inactive)
	inactive.IsActive = false
	_, err := env.stores.Accounts.UpdateAccount(context.Background(), inactive)
	require.NoError(t, err)

	runHTTPTests(t, env, []httpTest{
		{name: "no token", method: http.MethodGet, path: "/auth/me", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "bad token", method: http.MethodGet, path: "/auth/me", token: "abc.def.ghi", wantCode: http.StatusUnauthorized},
		{name: "unknown account", method: http.MethodGet, path: "/auth/me", token: ghostToken, wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "account not authenticated"})},
		{name: "deactivated", method: http.MethodGet, path: "/auth/me", token: inactiveToken, wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "ok", method: http.MethodGet, path: "/auth/me", token: token, wantCode: http.StatusOK, wantData: marchallObj(t, acc)},
	})

	req, rec := newAuthRequest(http.MethodPost, "/auth/refresh", token)
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var refreshed LoginResponse
	unmarchall(t, rec, &refreshed)
	assert.NotEmpty(t, refreshed.Token)
	assert.Nil(t, refreshed.Account)
}

func Test_authApi_changePassword(t *testing.T) {
	env := setup(t)
	acc := env.createAccount(t, "Examiner", "examiner@test.et", account.RoleExaminer)
	token := env.getToken(t, acc)

	runHTTPTests(t, env, []httpTest{
		{
			name:     "wrong current password",
			method:   http.MethodPost,
			path:     "/auth/password",
			body:     marchallObj(t, PasswordChangeRequest{CurrentPassword: "Wrong#pass1", NewPassword: "N3w!Passphrase"}),
			token:    token,
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "invalid credentials", Reason: "invalid_credential"}),
		},
		{
			name:     "weak password",
			method:   http.MethodPost,
			path:     "/auth/password",
			body:     marchallObj(t, PasswordChangeRequest{CurrentPassword: testutil.Password, NewPassword: "12345678"}),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"new_password": "password cannot be entirely numeric"}),
		},
		{
			name:     "ok",
			method:   http.MethodPost,
			path:     "/auth/password",
			body:     marchallObj(t, PasswordChangeRequest{CurrentPassword: testutil.Password, NewPassword: "N3w!Passphrase"}),
			token:    token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, SuccessResponse{Success: "Password has been changed."}),
		},
	})

	_, err := env.svcs.Accounts.Authenticate(context.Background(), "examiner@test.et", "N3w!Passphrase")
	assert.NoError(t, err)
}

func Test_authApi_passwordReset(t *testing.T) {
	env := setup(t, func(conf *core.Config) { conf.Verification.ExposeResetToken = true })
	acc := env.createAccount(t, "Jonas Worku", "jonas@test.et", account.RoleResearcher)

	// unknown emails get the same answer
	req, rec := newRequest(http.MethodPost, "/auth/reset/request", []byte(`{"email":"ghost@test.et"}`))
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code)
	var res PasswordResetResponse
	unmarchall(t, rec, &res)
	assert.Nil(t, res.Ticket)
	assert.Empty(t, env.mailSvc.Sent())

	req, rec = newRequest(http.MethodPost, "/auth/reset/request", []byte(`{"email":"Jonas@test.et"}`))
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code)
	unmarchall(t, rec, &res)
	require.NotNil(t, res.Ticket)
	assert.Equal(t, account.EncodeUID(acc), res.Ticket.UID)
	assert.Len(t, env.mailSvc.Sent(), 1)

	confirm := func(token, pwd string) []byte {
		return marchallObj(t, map[string]string{"uid": res.Ticket.UID, "token": token, "password": pwd})
	}
	runHTTPTests(t, env, []httpTest{
		{
			name:     "bad token",
			method:   http.MethodPost,
			path:     "/auth/reset/confirm",
			body:     confirm("MTIz-abc", "N3w!Passphrase"),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "invalid password reset token", Reason: "token_invalid"}),
		},
		{
			name:     "weak password",
			method:   http.MethodPost,
			path:     "/auth/reset/confirm",
			body:     confirm(res.Ticket.Token, "short"),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"password": "password must contain at least 8 characters"}),
		},
		{
			name:     "ok",
			method:   http.MethodPost,
			path:     "/auth/reset/confirm",
			body:     confirm(res.Ticket.Token, "N3w!Passphrase"),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, SuccessResponse{Success: "Password has been reset with the new password."}),
		},
	})
}
