package rosterfile

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hilcoe/rms/core/roster"
)

func TestRead_CSV(t *testing.T) {
	data := "Last Name,First Name,Student ID,Program\n" +
		"Researcher, Rhea ,RMS2025-001,Software Engineering\n" +
		",,,\n" +
		"Bekele,Helena,rms2025-002,\n"

	entries, err := Read(strings.NewReader(data), "roster.CSV")
	require.NoError(t, err)
	assert.Equal(t, []roster.NewEntry{
		{StudentID: "RMS2025-001", FirstName: "Rhea", LastName: "Researcher", Program: "Software Engineering"},
		{StudentID: "rms2025-002", FirstName: "Helena", LastName: "Bekele"},
	}, entries)
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		fname   string
		wantErr error
	}{
		{"unknown format", "x", "roster.txt", ErrUnknownFormat},
		{"header only", "student_id,first_name,last_name\n", "r.csv", ErrNoData},
		{"missing last name column", "student_id,first_name\nRMS2025-001,Rhea\n", "r.csv", ErrBadHeader},
		{"only blank rows", "student_id,first_name,last_name\n,,\n", "r.csv", ErrNoData},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tc.data), tc.fname)
			assert.Equal(t, tc.wantErr, err)
		})
	}
}

func TestXLSXRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	entries := []roster.Entry{
		{StudentID: "RMS2025-001", FirstName: "Rhea", LastName: "Researcher", Program: "Software Engineering", CreatedAt: now},
		{StudentID: "RMS2025-002", FirstName: "Helena", MiddleName: "S.", LastName: "Bekele", VerifiedEmail: "helena@example.com"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, entries))

	got, err := Read(&buf, "export.xlsx")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "RMS2025-001", got[0].StudentID)
	assert.Equal(t, "Software Engineering", got[0].Program)
	assert.Equal(t, "S.", got[1].MiddleName)
	assert.Equal(t, "Bekele", got[1].LastName)
}
