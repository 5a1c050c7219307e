// pkg/outputters/console.go
package outputters

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/entrascope/entrascope/pkg/assignments"
	"github.com/entrascope/entrascope/pkg/directory"
	"github.com/entrascope/entrascope/pkg/mutate"
	"github.com/fatih/color"
)

var headerColor = color.New(color.FgHiCyan, color.Bold)

// Table is a console table with aligned columns.
type Table struct {
	out     io.Writer
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{out: os.Stdout, headers: headers}
}

// SetOutput redirects the table, useful for tests.
func (t *Table) SetOutput(w io.Writer) { t.out = w }

func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
		}
	}
	t.rows = append(t.rows, row)
}

// Render prints the table with each column padded to its widest cell.
func (t *Table) Render() {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var header strings.Builder
	for i, h := range t.headers {
		fmt.Fprintf(&header, "%-*s  ", widths[i], h)
	}
	headerColor.Fprintln(t.out, strings.TrimRight(header.String(), " "))

	var rule strings.Builder
	for _, w := range widths {
		rule.WriteString(strings.Repeat("-", w))
		rule.WriteString("  ")
	}
	fmt.Fprintln(t.out, strings.TrimRight(rule.String(), " "))

	for _, row := range t.rows {
		var line strings.Builder
		for i, cell := range row {
			fmt.Fprintf(&line, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(t.out, strings.TrimRight(line.String(), " "))
	}
}

// RenderRecords prints one row per subject and target pair. The state
// column appears only when the domain carries one (compliance status,
// app install state), the version column only for apps.
func RenderRecords(records []assignments.Record, withState, withVersion bool) {
	headers := []string{"Name"}
	if withVersion {
		headers = append(headers, "Version")
	}
	if withState {
		headers = append(headers, "State")
	}
	headers = append(headers, "Group", "Membership", "Target", "Intent")

	table := NewTable(headers...)
	for _, rec := range records {
		for _, tgt := range rec.Targets {
			row := []string{rec.SubjectName}
			if withVersion {
				row = append(row, rec.Version)
			}
			if withState {
				row = append(row, rec.State)
			}
			row = append(row, tgt.GroupName, tgt.MembershipType, tgt.TargetType, tgt.Intent)
			table.AddRow(row...)
		}
	}
	table.Render()
}

// RenderGroupAssignments prints the result of a group scan.
func RenderGroupAssignments(found []assignments.GroupAssignment) {
	table := NewTable("Configuration", "Type", "Intent")
	for _, a := range found {
		table.AddRow(a.ConfigName, a.ConfigType, a.Intent)
	}
	table.Render()
}

// RenderMembers prints a group member listing.
func RenderMembers(membership *directory.GroupMembership) {
	table := NewTable("Name", "Type", "UPN / Device ID", "Mail")
	for _, m := range membership.Members {
		ident := m.UserPrincipalName
		if ident == "" {
			ident = m.DeviceID
		}
		table.AddRow(m.DisplayName, memberKind(m), ident, m.Mail)
	}
	table.Render()
}

// RenderGroupResults prints per-group mutation outcomes.
func RenderGroupResults(results []mutate.GroupResult) {
	table := NewTable("Group", "Result")
	for _, r := range results {
		name := r.GroupName
		if name == "" {
			name = r.GroupID
		}
		outcome := "Success"
		if r.Err != nil {
			outcome = "Error: " + r.Err.Error()
		}
		table.AddRow(name, outcome)
	}
	table.Render()
}

func memberKind(m directory.Member) string {
	t := strings.TrimPrefix(m.ODataType, "#microsoft.graph.")
	if t == "" {
		return "unknown"
	}
	return t
}
