package cmd

import (
	"context"

	"github.com/entrascope/entrascope/internal/message"
	"github.com/entrascope/entrascope/pkg/assignments"
	"github.com/entrascope/entrascope/pkg/outputters"
	"github.com/spf13/cobra"
)

var assignmentsCmd = &cobra.Command{
	Use:   "assignments",
	Short: "Reconcile policy, app, and script assignments for a managed device",
}

var assignmentsConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration profile assignments applicable to the device and its user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAssignments(cmd.Context(), "configuration", assignments.DomainConfig,
			func(ctx context.Context, engine *assignments.Engine, mdmDeviceID string) ([]assignments.Record, error) {
				return engine.CheckConfigProfiles(ctx, mdmDeviceID)
			}, false, false)
	},
}

var assignmentsComplianceCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Compliance policy assignments with per-policy compliance state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAssignments(cmd.Context(), "compliance", assignments.DomainCompliance,
			func(ctx context.Context, engine *assignments.Engine, mdmDeviceID string) ([]assignments.Record, error) {
				return engine.CheckCompliance(ctx, mdmDeviceID)
			}, true, false)
	},
}

var assignmentsAppsCmd = &cobra.Command{
	Use:   "apps",
	Short: "App assignments with install state for the device and user planes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAssignments(cmd.Context(), "app", assignments.DomainApps,
			func(ctx context.Context, engine *assignments.Engine, mdmDeviceID string) ([]assignments.Record, error) {
				return engine.CheckApps(ctx, mdmDeviceID)
			}, true, true)
	},
}

var assignmentsScriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "Platform script assignments applicable to the device and its user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAssignments(cmd.Context(), "script", assignments.DomainScripts,
			func(ctx context.Context, engine *assignments.Engine, mdmDeviceID string) ([]assignments.Record, error) {
				return engine.CheckScripts(ctx)
			}, false, false)
	},
}

func runAssignments(ctx context.Context, domain, cacheKey string,
	check func(context.Context, *assignments.Engine, string) ([]assignments.Record, error),
	withState, withVersion bool) error {

	mdmDeviceID, err := requireDeviceID()
	if err != nil {
		return err
	}
	client, err := newGraphClient()
	if err != nil {
		return err
	}

	message.Info("Reconciling %s assignments for device %s", domain, mdmDeviceID)
	engine, err := assignments.NewEngine(ctx, client, session, mdmDeviceID)
	if err != nil {
		message.Error("Failed to resolve device: %v", err)
		return err
	}

	if _, err := check(ctx, engine, mdmDeviceID); err != nil {
		message.Error("Failed to reconcile %s assignments: %v", domain, err)
		return err
	}

	// Render from the session cache so output always matches what the
	// pass stored, not a slice the check happened to hand back.
	records, _ := assignments.CachedRecords(session, cacheKey)
	if len(records) == 0 {
		message.Info("No applicable %s assignments for %q", domain, engine.Device().DisplayName)
		return nil
	}

	outputters.RenderRecords(records, withState, withVersion)
	if outputCSV != "" {
		if err := outputters.WriteRecordsCSV(outputCSV, records, withState, withVersion); err != nil {
			message.Error("CSV export failed: %v", err)
			return err
		}
		message.Success("Results written to %s", outputCSV)
	}
	message.Success("Found %d %s subjects with applicable assignments", len(records), domain)
	return nil
}

func init() {
	rootCmd.AddCommand(assignmentsCmd)
	assignmentsCmd.AddCommand(assignmentsConfigCmd)
	assignmentsCmd.AddCommand(assignmentsComplianceCmd)
	assignmentsCmd.AddCommand(assignmentsAppsCmd)
	assignmentsCmd.AddCommand(assignmentsScriptsCmd)
}
