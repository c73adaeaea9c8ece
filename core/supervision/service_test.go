package supervision_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hilcoe/rms/apps/container"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/notification"
	"github.com/hilcoe/rms/core/supervision"
	emailsvc "github.com/hilcoe/rms/services/email"
	"github.com/hilcoe/rms/storage"
	"github.com/hilcoe/rms/tests"
)

type fixture struct {
	arb    *supervision.Arbiter
	stores *storage.Stores

	coordinator account.Account
	abebe       account.Account // supervisor SUP-A
	sara        account.Account // supervisor SUP-B
	rhea        account.Account // researcher RMS2025-001
	actor       supervision.Actor
}

func setup(t *testing.T, maxResearchers int) fixture {
	t.Helper()
	conf := testutil.NewConfig()
	conf.Supervision.MaxResearchers = maxResearchers
	logger := testutil.NewLogger(conf)
	stores := storage.NewMemory(nil)
	svcs := container.NewServices(conf, logger, stores, emailsvc.NewConsoleServiceMock(conf, logger), nil)

	testutil.CreateEntry(t, stores.Roster, "RMS2025-001", "Rhea", "", "Researcher")
	testutil.CreateEntry(t, stores.Roster, "RMS2025-002", "Helena", "S.", "Bekele")
	testutil.CreateEntry(t, stores.Roster, "RMS2025-003", "Jonas", "A.", "Worku")
	testutil.CreateProfile(t, stores.Supervision, "SUP-A", "Abebe", "Kebede", "abebe@test.et", "Data Science")
	testutil.CreateProfile(t, stores.Supervision, "SUP-B", "Sara", "Alemu", "sara@test.et")

	f := fixture{
		arb:         svcs.Arbiter,
		stores:      stores,
		coordinator: testutil.CreateAccount(t, stores.Accounts, "Coordinator", "coord@test.et", testutil.Password, account.RoleCoordinator, account.Link{}),
		abebe:       testutil.CreateAccount(t, stores.Accounts, "Abebe Kebede", "abebe@test.et", testutil.Password, account.RoleSupervisor, account.Link{SupervisorID: "SUP-A"}),
		sara:        testutil.CreateAccount(t, stores.Accounts, "Sara Alemu", "sara@test.et", testutil.Password, account.RoleSupervisor, account.Link{SupervisorID: "SUP-B"}),
		rhea:        testutil.CreateAccount(t, stores.Accounts, "Rhea Researcher", "rhea@test.et", testutil.Password, account.RoleResearcher, account.Link{StudentID: "RMS2025-001"}),
	}
	f.actor = supervision.Actor{AccountID: f.coordinator.ID, Name: f.coordinator.Name}
	return f
}

func (f fixture) kinds(t *testing.T, acc account.Account) []notification.Kind {
	t.Helper()
	ns, err := f.stores.Notifications.QueryNotifications(context.Background(), acc.ID, notification.QueryFilter{})
	require.NoError(t, err)
	kinds := make([]notification.Kind, len(ns))
	for i, n := range ns {
		kinds[len(ns)-1-i] = n.Type // oldest first
	}
	return kinds
}

func TestArbiter_Assign(t *testing.T) {
	f := setup(t, 10)
	ctx := context.Background()

	student, err := f.arb.Assign(ctx, supervision.AssignRequest{StudentID: "rms2025-001", SupervisorID: "sup-a"}, f.actor)
	require.NoError(t, err)
	require.NotNil(t, student.AssignedSupervisor)
	assert.Equal(t, "SUP-A", student.AssignedSupervisor.SupervisorID)
	assert.Equal(t, "Abebe Kebede", student.AssignedSupervisor.SupervisorName)
	assert.Equal(t, "Coordinator", student.AssignedSupervisor.AssignedBy)
	assert.Equal(t, 1, student.AssignmentVersion)

	assert.Equal(t, []notification.Kind{notification.KindStudentAssigned}, f.kinds(t, f.abebe))
	assert.Equal(t, []notification.Kind{notification.KindSupervisorAssigned}, f.kinds(t, f.rhea))

	t.Run("same supervisor again changes nothing", func(t *testing.T) {
		again, err := f.arb.Assign(ctx, supervision.AssignRequest{StudentID: "RMS2025-001", SupervisorID: "SUP-A"}, f.actor)
		require.NoError(t, err)
		assert.Equal(t, student, again)
		assert.Len(t, f.kinds(t, f.abebe), 1)
		assert.Len(t, f.kinds(t, f.rhea), 1)
	})

	t.Run("reassignment notifies both supervisors", func(t *testing.T) {
		moved, err := f.arb.Assign(ctx, supervision.AssignRequest{StudentID: "RMS2025-001", SupervisorID: "SUP-B"}, f.actor)
		require.NoError(t, err)
		assert.Equal(t, "SUP-B", moved.AssignedSupervisor.SupervisorID)
		assert.Equal(t, 2, moved.AssignmentVersion)
		assert.Equal(t, []notification.Kind{notification.KindStudentAssigned, notification.KindStudentUnassigned}, f.kinds(t, f.abebe))
		assert.Equal(t, []notification.Kind{notification.KindStudentAssigned}, f.kinds(t, f.sara))
	})

	t.Run("errors", func(t *testing.T) {
		stale := 0
		tests := []struct {
			name    string
			req     supervision.AssignRequest
			wantErr error
		}{
			{"unknown supervisor", supervision.AssignRequest{StudentID: "RMS2025-002", SupervisorID: "SUP-Z"}, supervision.ErrSupervisorNotFound},
			{"unknown student", supervision.AssignRequest{StudentID: "RMS2025-999", SupervisorID: "SUP-A"}, supervision.ErrStudentNotFound},
			{"stale version", supervision.AssignRequest{StudentID: "RMS2025-001", SupervisorID: "SUP-A", ExpectedVersion: &stale}, supervision.ErrConflict},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.arb.Assign(ctx, tt.req, f.actor)
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			})
		}
	})
}

func TestArbiter_Assign_capacity(t *testing.T) {
	f := setup(t, 1)
	ctx := context.Background()

	_, err := f.arb.Assign(ctx, supervision.AssignRequest{StudentID: "RMS2025-001", SupervisorID: "SUP-A"}, f.actor)
	require.NoError(t, err)
	_, err = f.arb.Assign(ctx, supervision.AssignRequest{StudentID: "RMS2025-002", SupervisorID: "SUP-A"}, f.actor)
	assert.Equal(t, supervision.ErrSupervisorAtCapacity, errors.Cause(err))

	// a full supervisor keeps the students it has
	_, err = f.arb.Assign(ctx, supervision.AssignRequest{StudentID: "RMS2025-001", SupervisorID: "SUP-A"}, f.actor)
	assert.NoError(t, err)

	available, err := f.arb.ListAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, "SUP-B", available[0].SupervisorID)
}

func TestArbiter_Assign_concurrent(t *testing.T) {
	f := setup(t, 1)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		errs = make([]error, 3)
	)
	for i, id := range []string{"RMS2025-001", "RMS2025-002", "RMS2025-003"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.arb.Assign(ctx, supervision.AssignRequest{StudentID: id, SupervisorID: "SUP-A"}, f.actor)
		}(i, id)
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		switch errors.Cause(err) {
		case nil:
			ok++
		case supervision.ErrSupervisorAtCapacity:
			full++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 2, full)
}

func TestArbiter_Unassign(t *testing.T) {
	f := setup(t, 10)
	ctx := context.Background()

	student, err := f.arb.Unassign(ctx, supervision.UnassignRequest{StudentID: "RMS2025-001"}, f.actor)
	require.NoError(t, err)
	assert.Nil(t, student.AssignedSupervisor)
	assert.Equal(t, 0, student.AssignmentVersion)
	assert.Empty(t, f.kinds(t, f.rhea))

	_, err = f.arb.Assign(ctx, supervision.AssignRequest{StudentID: "RMS2025-001", SupervisorID: "SUP-A"}, f.actor)
	require.NoError(t, err)

	version := 1
	student, err = f.arb.Unassign(ctx, supervision.UnassignRequest{StudentID: "RMS2025-001", ExpectedVersion: &version}, f.actor)
	require.NoError(t, err)
	assert.Nil(t, student.AssignedSupervisor)
	assert.Equal(t, 2, student.AssignmentVersion)
	assert.Equal(t, []notification.Kind{notification.KindStudentAssigned, notification.KindStudentUnassigned}, f.kinds(t, f.abebe))
	assert.Equal(t, []notification.Kind{notification.KindSupervisorAssigned, notification.KindSupervisorUnassigned}, f.kinds(t, f.rhea))

	_, err = f.arb.Unassign(ctx, supervision.UnassignRequest{StudentID: "RMS2025-001", ExpectedVersion: &version}, f.actor)
	assert.Equal(t, supervision.ErrConflict, errors.Cause(err))
}

func TestArbiter_DeleteSupervisor(t *testing.T) {
	f := setup(t, 10)
	ctx := context.Background()

	for _, id := range []string{"RMS2025-001", "RMS2025-002"} {
		_, err := f.arb.Assign(ctx, supervision.AssignRequest{StudentID: id, SupervisorID: "SUP-A"}, f.actor)
		require.NoError(t, err)
	}
	_, err := f.arb.Assign(ctx, supervision.AssignRequest{StudentID: "RMS2025-003", SupervisorID: "SUP-B"}, f.actor)
	require.NoError(t, err)

	affected, err := f.arb.DeleteSupervisor(ctx, "sup-a", f.actor)
	require.NoError(t, err)
	require.Len(t, affected, 2)
	assert.Equal(t, "RMS2025-001", affected[0].StudentID)
	assert.Equal(t, "RMS2025-002", affected[1].StudentID)

	for _, id := range []string{"RMS2025-001", "RMS2025-002"} {
		s, err := f.arb.GetStudent(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, s.AssignedSupervisor, id)
	}
	s, err := f.arb.GetStudent(ctx, "RMS2025-003")
	require.NoError(t, err)
	assert.Equal(t, "SUP-B", s.AssignedSupervisor.SupervisorID)

	_, err = f.arb.Get(ctx, "SUP-A")
	assert.Equal(t, supervision.ErrSupervisorNotFound, errors.Cause(err))
	assert.Equal(t, []notification.Kind{notification.KindSupervisorAssigned, notification.KindSupervisorRemoved}, f.kinds(t, f.rhea))

	// the account stays
	_, err = f.stores.Accounts.GetAccount(ctx, account.GetFilter{ID: f.abebe.ID})
	assert.NoError(t, err)

	_, err = f.arb.DeleteSupervisor(ctx, "SUP-A", f.actor)
	assert.Equal(t, supervision.ErrSupervisorNotFound, errors.Cause(err))
}

func TestArbiter_ListAvailable(t *testing.T) {
	f := setup(t, 10)
	ctx := context.Background()

	// a second account of the same human and an account without a profile
	testutil.CreateAccount(t, f.stores.Accounts, "Abebe K.", "ABEBE.alt@test.et", testutil.Password, account.RoleSupervisor, account.Link{SupervisorID: "sup-a"})
	testutil.CreateAccount(t, f.stores.Accounts, "No Profile", "noprofile@test.et", testutil.Password, account.RoleSupervisor, account.Link{})

	available, err := f.arb.ListAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, available, 2)

	// ordered by last name
	assert.Equal(t, "SUP-B", available[0].SupervisorID)
	assert.Equal(t, f.sara.ID, available[0].AccountID)
	assert.Equal(t, "SUP-A", available[1].SupervisorID)
	assert.Equal(t, f.abebe.ID, available[1].AccountID)
}

func TestArbiter_CreateSupervisor(t *testing.T) {
	f := setup(t, 10)
	ctx := context.Background()

	profile, acc, err := f.arb.CreateSupervisor(ctx, supervision.NewProfile{
		FirstName:       "Tigist",
		LastName:        "Haile",
		Email:           "Tigist@test.et",
		Specializations: []string{" Cybersecurity ", "cybersecurity", "Computer Networks"},
		Password:        testutil.Password,
	})
	require.NoError(t, err)
	assert.Regexp(t, `^SUP-[0-9A-F]{8}$`, profile.SupervisorID)
	assert.Equal(t, []string{"Cybersecurity", "Computer Networks"}, profile.Specializations)
	assert.Equal(t, acc.ID, profile.AccountID)
	assert.Equal(t, account.RoleSupervisor, acc.Role)
	assert.Equal(t, profile.SupervisorID, acc.SupervisorID)

	// the account email is taken: no profile is left behind
	_, _, err = f.arb.CreateSupervisor(ctx, supervision.NewProfile{
		SupervisorID:    "SUP-C",
		FirstName:       "Coord",
		LastName:        "Inator",
		Email:           "coord@test.et",
		Specializations: []string{"Data Science"},
		Password:        testutil.Password,
	})
	assert.Equal(t, account.ErrEmailTaken, errors.Cause(err))
	_, err = f.arb.Get(ctx, "SUP-C")
	assert.Equal(t, supervision.ErrSupervisorNotFound, errors.Cause(err))

	_, _, err = f.arb.CreateSupervisor(ctx, supervision.NewProfile{
		SupervisorID:    "sup-a",
		FirstName:       "Dup",
		LastName:        "Licate",
		Email:           "dup@test.et",
		Specializations: []string{"Data Science"},
		Password:        testutil.Password,
	})
	assert.Equal(t, supervision.ErrDuplicateID, errors.Cause(err))
}

func TestArbiter_Update(t *testing.T) {
	f := setup(t, 10)
	ctx := context.Background()
	_, err := f.arb.Assign(ctx, supervision.AssignRequest{StudentID: "RMS2025-001", SupervisorID: "SUP-A"}, f.actor)
	require.NoError(t, err)

	profile, err := f.arb.Update(ctx, "SUP-A", supervision.UpdateProfile{LastName: "Tadesse"})
	require.NoError(t, err)
	assert.Equal(t, "Abebe Tadesse", profile.FullName())

	s, err := f.arb.GetStudent(ctx, "RMS2025-001")
	require.NoError(t, err)
	assert.Equal(t, "Abebe Tadesse", s.AssignedSupervisor.SupervisorName)

	_, err = f.arb.Update(ctx, "SUP-A", supervision.UpdateProfile{Specializations: []string{" ", ""}})
	assert.Error(t, err)
	_, err = f.arb.Update(ctx, "SUP-A", supervision.UpdateProfile{Email: "sara@test.et"})
	assert.Equal(t, supervision.ErrEmailTaken, errors.Cause(err))
}

func TestArbiter_Specializations(t *testing.T) {
	f := setup(t, 10)
	specs, err := f.arb.Specializations(context.Background())
	require.NoError(t, err)
	assert.Len(t, specs, len(supervision.DefaultSpecializations))
	assert.Equal(t, "Artificial Intelligence & Machine Learning", specs[0])
}

func TestArbiter_NotifyMilestone(t *testing.T) {
	f := setup(t, 10)
	ctx := context.Background()
	mu := supervision.MilestoneUpdate{StudentID: "RMS2025-001", Milestone: "Synopsis", Status: "approved"}

	err := f.arb.NotifyMilestone(ctx, mu, f.abebe)
	assert.Equal(t, supervision.ErrNotSupervising, errors.Cause(err))

	_, err = f.arb.Assign(ctx, supervision.AssignRequest{StudentID: "RMS2025-001", SupervisorID: "SUP-A"}, f.actor)
	require.NoError(t, err)
	require.NoError(t, f.arb.NotifyMilestone(ctx, mu, f.abebe))
	require.NoError(t, f.arb.NotifyMilestone(ctx, mu, f.coordinator))
	assert.Equal(t, supervision.ErrNotSupervising, errors.Cause(f.arb.NotifyMilestone(ctx, mu, f.sara)))

	ns, err := f.stores.Notifications.QueryNotifications(ctx, f.rhea.ID, notification.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, ns, 3)
	assert.Equal(t, notification.MilestoneUpdated{
		StudentID: "RMS2025-001", Milestone: "Synopsis", Status: "approved", ActorID: f.coordinator.ID, ActorName: "Coordinator",
	}, ns[0].Payload)

	// no researcher account yet
	err = f.arb.NotifyMilestone(ctx, supervision.MilestoneUpdate{StudentID: "RMS2025-002", Milestone: "Synopsis", Status: "approved"}, f.coordinator)
	assert.Equal(t, account.ErrNotFound, errors.Cause(err))
}
