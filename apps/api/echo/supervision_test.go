package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/notification"
	"github.com/hilcoe/rms/core/supervision"
	"github.com/hilcoe/rms/tests"
)

type supervisionEnv struct {
	*testEnv
	coord      account.Account
	token      string
	abebe      account.Account
	abebeToken string
	rhea       account.Account
}

func setupSupervision(t *testing.T, configure ...func(conf *core.Config)) *supervisionEnv {
	t.Helper()
	env := &supervisionEnv{testEnv: setup(t, configure...)}
	env.coord = env.createAccount(t, "Coordinator", "coord@test.et", account.RoleCoordinator)
	env.token = env.getToken(t, env.coord)

	testutil.CreateProfile(t, env.stores.Supervision, "SUP-A", "Abebe", "Kebede", "abebe@test.et", "Software Engineering")
	testutil.CreateProfile(t, env.stores.Supervision, "SUP-B", "Sara", "Tadesse", "sara@test.et", "Machine Learning")
	env.abebe = env.createAccount(t, "Abebe Kebede", "abebe@test.et", account.RoleSupervisor, account.Link{SupervisorID: "SUP-A"})
	env.abebeToken = env.getToken(t, env.abebe)

	testutil.CreateEntry(t, env.stores.Roster, "RMS2025-001", "Rhea", "", "Researcher")
	testutil.CreateEntry(t, env.stores.Roster, "RMS2025-002", "Helena", "S.", "Bekele")
	env.rhea = env.createAccount(t, "Rhea Researcher", "rhea@test.et", account.RoleResearcher, account.Link{StudentID: "RMS2025-001"})
	return env
}

func (env *supervisionEnv) assign(t *testing.T, studentID, supervisorID string) supervision.Student {
	t.Helper()
	req, rec := newAuthRequest(http.MethodPost, "/supervisors/assign", env.token,
		[]byte(fmt.Sprintf(`{"studentId":%q,"supervisorId":%q}`, studentID, supervisorID)))
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var s supervision.Student
	unmarchall(t, rec, &s)
	return s
}

func (env *supervisionEnv) kinds(t *testing.T, acc account.Account) []notification.Kind {
	t.Helper()
	list, err := env.svcs.Bus.List(context.Background(), acc.ID, nil)
	require.NoError(t, err)
	kinds := make([]notification.Kind, 0, len(list))
	for _, n := range list {
		kinds = append(kinds, n.Type)
	}
	return kinds
}

func Test_supervisionApi_permissions(t *testing.T) {
	env := setupSupervision(t)
	rheaToken := env.getToken(t, env.rhea)

	runHTTPTests(t, env.testEnv, []httpTest{
		{name: "supervisor lists", method: http.MethodGet, path: "/supervisors", token: env.abebeToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "supervisor assigns", method: http.MethodPost, path: "/supervisors/assign", token: env.abebeToken,
			body: []byte(`{"studentId":"RMS2025-001","supervisorId":"SUP-A"}`), wantCode: http.StatusForbidden},
		{name: "researcher notifies", method: http.MethodPost, path: "/milestones/notify", token: rheaToken,
			body: []byte(`{"studentId":"RMS2025-001","milestone":"Proposal","status":"approved"}`), wantCode: http.StatusForbidden},
	})
}

func Test_supervisionApi_assignAndUnassign(t *testing.T) {
	env := setupSupervision(t)

	runHTTPTests(t, env.testEnv, []httpTest{
		{
			name:     "missing fields",
			method:   http.MethodPost,
			path:     "/supervisors/assign",
			body:     []byte(`{}`),
			token:    env.token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"studentId":    "this field is required",
				"supervisorId": "this field is required",
			}),
		},
		{
			name:     "unknown supervisor",
			method:   http.MethodPost,
			path:     "/supervisors/assign",
			body:     []byte(`{"studentId":"RMS2025-001","supervisorId":"SUP-Z"}`),
			token:    env.token,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "supervisor not found", Reason: "supervisor_not_found"}),
		},
		{
			name:     "unknown student",
			method:   http.MethodPost,
			path:     "/supervisors/assign",
			body:     []byte(`{"studentId":"RMS2025-404","supervisorId":"SUP-A"}`),
			token:    env.token,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "student not found", Reason: "not_found"}),
		},
	})

	s := env.assign(t, "rms2025-001", "sup-a")
	assert.Equal(t, "RMS2025-001", s.StudentID)
	require.NotNil(t, s.AssignedSupervisor)
	assert.Equal(t, "SUP-A", s.AssignedSupervisor.SupervisorID)
	assert.Equal(t, "Abebe Kebede", s.AssignedSupervisor.SupervisorName)
	assert.Equal(t, "Coordinator", s.AssignedSupervisor.AssignedBy)
	assert.Equal(t, 1, s.AssignmentVersion)

	assert.Equal(t, []notification.Kind{notification.KindStudentAssigned}, env.kinds(t, env.abebe))
	assert.Equal(t, []notification.Kind{notification.KindSupervisorAssigned}, env.kinds(t, env.rhea))

	runHTTPTests(t, env.testEnv, []httpTest{
		{
			name:     "stale version",
			method:   http.MethodPost,
			path:     "/supervisors/unassign",
			body:     []byte(`{"studentId":"RMS2025-001","expectedVersion":0}`),
			token:    env.token,
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "the assignment changed since it was read, reload and try again", Reason: "conflict"}),
		},
		{
			name:     "student view",
			method:   http.MethodGet,
			path:     "/supervisors/students/RMS2025-001",
			token:    env.token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, s),
		},
	})

	req, rec := newAuthRequest(http.MethodPost, "/supervisors/unassign", env.token, []byte(`{"studentId":"RMS2025-001","expectedVersion":1}`))
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarchall(t, rec, &s)
	assert.Nil(t, s.AssignedSupervisor)
	assert.Equal(t, 2, s.AssignmentVersion)

	assert.Equal(t, []notification.Kind{notification.KindStudentUnassigned, notification.KindStudentAssigned}, env.kinds(t, env.abebe))
	assert.Equal(t, []notification.Kind{notification.KindSupervisorUnassigned, notification.KindSupervisorAssigned}, env.kinds(t, env.rhea))
}

func Test_supervisionApi_capacity(t *testing.T) {
	env := setupSupervision(t, func(conf *core.Config) { conf.Supervision.MaxResearchers = 1 })
	env.assign(t, "RMS2025-001", "SUP-A")

	runHTTPTests(t, env.testEnv, []httpTest{
		{
			name:     "full",
			method:   http.MethodPost,
			path:     "/supervisors/assign",
			body:     []byte(`{"studentId":"RMS2025-002","supervisorId":"SUP-A"}`),
			token:    env.token,
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "supervisor has no capacity left", Reason: "supervisor_at_capacity"}),
		},
		{
			name:     "same supervisor again",
			method:   http.MethodPost,
			path:     "/supervisors/assign",
			body:     []byte(`{"studentId":"RMS2025-001","supervisorId":"SUP-A"}`),
			token:    env.token,
			wantCode: http.StatusOK,
		},
	})

	// full supervisors are not offered
	req, rec := newAuthRequest(http.MethodGet, "/supervisors/available", env.token)
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Items []supervision.Profile `json:"items"`
	}
	unmarchall(t, rec, &res)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "SUP-B", res.Items[0].SupervisorID)
}

func Test_supervisionApi_createUpdateDelete(t *testing.T) {
	env := setupSupervision(t)

	newProfile := func(id, email string) []byte {
		return marchallObj(t, map[string]interface{}{
			"supervisor_id":   id,
			"first_name":      "Meron",
			"last_name":       "Haile",
			"email":           email,
			"specializations": []string{" data  science ", "Machine Learning"},
			"password":        testutil.Password,
		})
	}

	runHTTPTests(t, env.testEnv, []httpTest{
		{
			name:     "duplicate id",
			method:   http.MethodPost,
			path:     "/supervisors",
			body:     newProfile("sup-a", "meron@test.et"),
			token:    env.token,
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "a supervisor with this ID already exists", Reason: "duplicate_id"}),
		},
		{
			name:     "email taken",
			method:   http.MethodPost,
			path:     "/supervisors",
			body:     newProfile("SUP-C", "sara@test.et"),
			token:    env.token,
			wantCode: http.StatusConflict,
		},
		{
			name:     "no specializations",
			method:   http.MethodPost,
			path:     "/supervisors",
			body:     []byte(`{"first_name":"Meron","last_name":"Haile","email":"meron@test.et","specializations":[],"password":"Rms#2025secure"}`),
			token:    env.token,
			wantCode: http.StatusBadRequest,
		},
	})

	req, rec := newAuthRequest(http.MethodPost, "/supervisors", env.token, newProfile("", "Meron@test.et"))
	env.serve(req, rec)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created SupervisorResponse
	unmarchall(t, rec, &created)
	assert.Regexp(t, `^SUP-[0-9A-F]{8}$`, created.Profile.SupervisorID)
	assert.Equal(t, "meron@test.et", created.Profile.Email)
	assert.Equal(t, created.Account.ID, created.Profile.AccountID)
	assert.Equal(t, account.RoleSupervisor, created.Account.Role)
	assert.Equal(t, created.Profile.SupervisorID, created.Account.SupervisorID)
	assert.Equal(t, "Meron Haile", created.Account.Name)

	id := created.Profile.SupervisorID
	env.assign(t, "RMS2025-001", id)

	// renames reach the assignment
	req, rec = newAuthRequest(http.MethodPatch, "/supervisors/"+id, env.token, []byte(`{"last_name":"Haile-Mariam"}`))
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	student, err := env.svcs.Arbiter.GetStudent(context.Background(), "RMS2025-001")
	require.NoError(t, err)
	require.NotNil(t, student.AssignedSupervisor)
	assert.Equal(t, "Meron Haile-Mariam", student.AssignedSupervisor.SupervisorName)

	req, rec = newAuthRequest(http.MethodGet, "/supervisors/specializations", env.token)
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var specs struct {
		Items []string `json:"items"`
	}
	unmarchall(t, rec, &specs)
	assert.Contains(t, specs.Items, "Machine Learning")
	assert.Contains(t, specs.Items, "Data Science")
	assert.NotContains(t, specs.Items, "data science")

	// delete cascades to the assignment
	req, rec = newAuthRequest(http.MethodDelete, "/supervisors/"+id, env.token)
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"unassigned":["RMS2025-001"]}`, rec.Body.String())

	student, err = env.svcs.Arbiter.GetStudent(context.Background(), "RMS2025-001")
	require.NoError(t, err)
	assert.Nil(t, student.AssignedSupervisor)
	assert.Equal(t, notification.KindSupervisorRemoved, env.kinds(t, env.rhea)[0])

	runHTTPTests(t, env.testEnv, []httpTest{
		{
			name:     "deleted",
			method:   http.MethodGet,
			path:     "/supervisors/" + id,
			token:    env.token,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "supervisor not found", Reason: "supervisor_not_found"}),
		},
		{
			name:     "delete again",
			method:   http.MethodDelete,
			path:     "/supervisors/" + id,
			token:    env.token,
			wantCode: http.StatusNotFound,
		},
	})

	// the account outlives its profile
	_, err = env.svcs.Accounts.GetByID(context.Background(), created.Account.ID)
	assert.NoError(t, err)
}

func Test_supervisionApi_notifyMilestone(t *testing.T) {
	env := setupSupervision(t)
	env.assign(t, "RMS2025-001", "SUP-A")
	env.assign(t, "RMS2025-002", "SUP-B")

	milestone := func(studentID string) []byte {
		return []byte(fmt.Sprintf(`{"studentId":%q,"milestone":"Proposal","status":"approved"}`, studentID))
	}

	runHTTPTests(t, env.testEnv, []httpTest{
		{
			name:     "not own researcher",
			method:   http.MethodPost,
			path:     "/milestones/notify",
			body:     milestone("RMS2025-002"),
			token:    env.abebeToken,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "student not found among your researchers", Reason: "not_found"}),
		},
		{
			name:     "missing status",
			method:   http.MethodPost,
			path:     "/milestones/notify",
			body:     []byte(`{"studentId":"RMS2025-001","milestone":"Proposal"}`),
			token:    env.abebeToken,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"status": "this field is required"}),
		},
		{
			name:     "own researcher",
			method:   http.MethodPost,
			path:     "/milestones/notify",
			body:     milestone("RMS2025-001"),
			token:    env.abebeToken,
			wantCode: http.StatusAccepted,
		},
	})

	list, err := env.svcs.Bus.List(context.Background(), env.rhea.ID, nil)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, notification.KindMilestoneUpdated, list[0].Type)
	assert.Equal(t, notification.MilestoneUpdated{
		StudentID: "RMS2025-001", Milestone: "Proposal", Status: "approved", ActorID: env.abebe.ID, ActorName: "Abebe Kebede",
	}, list[0].Payload)
}
