package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hilcoe/rms/core/roster"
	"github.com/hilcoe/rms/core/supervision"
)

func TestDB_WithinTx(t *testing.T) {
	db := NewDB()
	entries := NewRosterRepository(db)
	sups := NewSupervisionRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := entries.CreateEntry(ctx, roster.Entry{StudentID: "RMS2025-001", FirstName: "Rhea", LastName: "Researcher", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	_, err = sups.CreateProfile(ctx, supervision.Profile{SupervisorID: "SUP-A", FirstName: "Abebe", LastName: "Kebede", Email: "abebe@test.et", Specializations: []string{"Data Science"}})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := sups.SetAssignment(ctx, "RMS2025-001", &supervision.Assignment{SupervisorID: "SUP-A"}, nil); err != nil {
			return err
		}
		if err := sups.DeleteProfile(ctx, "SUP-A"); err != nil {
			return err
		}
		return boom
	})
	assert.Equal(t, boom, err)

	// nothing of the failed unit of work is left
	student, err := sups.GetStudent(ctx, "rms2025-001")
	require.NoError(t, err)
	assert.Nil(t, student.AssignedSupervisor)
	assert.Equal(t, 0, student.AssignmentVersion)
	_, err = sups.GetProfile(ctx, "SUP-A")
	assert.NoError(t, err)

	err = db.WithinTx(ctx, func(ctx context.Context) error {
		// nested units of work join the outer one
		return db.WithinTx(ctx, func(ctx context.Context) error {
			_, err := sups.SetAssignment(ctx, "RMS2025-001", &supervision.Assignment{SupervisorID: "SUP-A"}, nil)
			return err
		})
	})
	require.NoError(t, err)
	student, err = sups.GetStudent(ctx, "RMS2025-001")
	require.NoError(t, err)
	assert.Equal(t, "SUP-A", student.AssignedSupervisor.SupervisorID)
	assert.Equal(t, 1, student.AssignmentVersion)
}
