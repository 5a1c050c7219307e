package outputters

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrascope/entrascope/pkg/assignments"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteRecordsCSV(t *testing.T) {
	records := []assignments.Record{
		{
			SubjectName: "Windows Compliance",
			State:       "Compliant",
			Targets: []assignments.Target{
				{GroupName: "Workstations", MembershipType: "Direct", TargetType: "Device", Intent: "Included"},
				{GroupName: "All Users", MembershipType: "Virtual", TargetType: "User", Intent: "Included"},
			},
		},
		{
			SubjectName: "Orphan Policy",
			State:       "Error",
			Targets: []assignments.Target{
				{GroupName: assignments.NoAssignments, MembershipType: "-", TargetType: "-"},
			},
		},
	}

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteRecordsCSV(path, records, true, false))

	rows := readCSV(t, path)
	require.Len(t, rows, 4, "header plus one row per subject and target pair")
	assert.Equal(t, []string{"Name", "State", "Group", "MembershipType", "TargetType", "Intent"}, rows[0])
	assert.Equal(t, []string{"Windows Compliance", "Compliant", "Workstations", "Direct", "Device", "Included"}, rows[1])
	assert.Equal(t, []string{"Orphan Policy", "Error", assignments.NoAssignments, "-", "-", ""}, rows[3])
}

func TestWriteRecordsCSVWithVersion(t *testing.T) {
	records := []assignments.Record{{
		SubjectName: "Company Portal",
		State:       "installed",
		Version:     "11.2",
		Targets:     []assignments.Target{{GroupName: "All Devices", MembershipType: "Virtual", TargetType: "Device", Intent: "required"}},
	}}

	path := filepath.Join(t.TempDir(), "apps.csv")
	require.NoError(t, WriteRecordsCSV(path, records, true, true))

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Name", "Version", "State", "Group", "MembershipType", "TargetType", "Intent"}, rows[0])
	assert.Equal(t, []string{"Company Portal", "11.2", "installed", "All Devices", "Virtual", "Device", "required"}, rows[1])
}

func TestWriteGroupAssignmentsCSV(t *testing.T) {
	found := []assignments.GroupAssignment{
		{ConfigName: "Kiosk Config", ConfigType: "Device Configuration", Intent: "Included"},
		{ConfigName: "Standard Autopilot", ConfigType: "Autopilot Entra Join Profile", Intent: "Excluded"},
	}

	path := filepath.Join(t.TempDir(), "scan.csv")
	require.NoError(t, WriteGroupAssignmentsCSV(path, found))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Configuration", "Type", "Intent"}, rows[0])
	assert.Equal(t, []string{"Kiosk Config", "Device Configuration", "Included"}, rows[1])
}
