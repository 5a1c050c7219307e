// pkg/outputters/csv.go
package outputters

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/entrascope/entrascope/pkg/assignments"
)

// WriteRecordsCSV exports reconciled records, one row per subject and
// target pair, to a CSV file.
func WriteRecordsCSV(path string, records []assignments.Record, withState, withVersion bool) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Name"}
	if withVersion {
		header = append(header, "Version")
	}
	if withState {
		header = append(header, "State")
	}
	header = append(header, "Group", "MembershipType", "TargetType", "Intent")
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

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
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}
	return nil
}

// WriteGroupAssignmentsCSV exports a group scan result to a CSV file.
func WriteGroupAssignmentsCSV(path string, found []assignments.GroupAssignment) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Configuration", "Type", "Intent"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, a := range found {
		if err := writer.Write([]string{a.ConfigName, a.ConfigType, a.Intent}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	return nil
}
