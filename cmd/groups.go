package cmd

import (
	"fmt"
	"strings"

	"github.com/entrascope/entrascope/internal/message"
	"github.com/entrascope/entrascope/pkg/assignments"
	"github.com/entrascope/entrascope/pkg/directory"
	"github.com/entrascope/entrascope/pkg/graph"
	"github.com/entrascope/entrascope/pkg/mutate"
	"github.com/entrascope/entrascope/pkg/outputters"
	"github.com/spf13/cobra"
)

var (
	groupIDs   []string
	memberIDs  []string
	targetMode string
	confirmAll bool
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Search, inspect, and modify Entra ID groups",
}

var groupsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find groups by display name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSDKClient()
		if err != nil {
			return err
		}

		// A fresh search starts a new target context.
		session.ResetAll()
		refs, err := sdk.SearchGroups(cmd.Context(), session, args[0])
		if err != nil {
			message.Error("Group search failed: %v", err)
			return err
		}
		if len(refs) == 0 {
			message.Info("No groups found matching %q", args[0])
			return nil
		}

		table := outputters.NewTable("ID", "Name", "Membership")
		for _, ref := range refs {
			kind := "Assigned"
			if ref.IsDynamic {
				kind = "Dynamic"
			}
			table.AddRow(ref.ID, ref.DisplayName, kind)
		}
		table.Render()
		message.Success("Found %d group(s) matching %q", len(refs), args[0])
		return nil
	},
}

var groupsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an assigned security group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSDKClient()
		if err != nil {
			return err
		}
		ref, err := sdk.CreateGroup(cmd.Context(), args[0])
		if err != nil {
			message.Error("Group creation failed: %v", err)
			return err
		}
		message.Success("Created group %q (%s)", ref.DisplayName, ref.ID)
		return nil
	},
}

var groupsMembersCmd = &cobra.Command{
	Use:   "members <group-id>",
	Short: "List a group's direct and nested members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newGraphClient()
		if err != nil {
			return err
		}
		membership, err := directory.GroupMembers(cmd.Context(), client, session, args[0])
		if err != nil {
			message.Error("Member listing failed: %v", err)
			return err
		}

		outputters.RenderMembers(membership)
		if membership.IsDynamic {
			message.Warning("%q is a dynamic group (rule: %s); membership cannot be modified manually",
				membership.GroupName, membership.MembershipRule)
		}
		message.Success("%q has %d unique members", membership.GroupName, len(membership.Members))
		return nil
	},
}

var groupsScanCmd = &cobra.Command{
	Use:   "scan <group-id>",
	Short: "Find every configuration, app, and profile assigned to a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newGraphClient()
		if err != nil {
			return err
		}

		message.Info("Scanning tenant for assignments targeting group %s", args[0])
		found, err := assignments.CheckGroupAssignments(cmd.Context(), client, session, args[0])
		if err != nil {
			message.Error("Group scan failed: %v", err)
			return err
		}
		if len(found) == 0 {
			message.Info("Group %s is not assigned to any configurations", args[0])
			return nil
		}

		outputters.RenderGroupAssignments(found)
		if outputCSV != "" {
			if err := outputters.WriteGroupAssignmentsCSV(outputCSV, found); err != nil {
				message.Error("CSV export failed: %v", err)
				return err
			}
			message.Success("Results written to %s", outputCSV)
		}
		message.Success("Found %d assignments for group %s", len(found), args[0])
		return nil
	},
}

var groupsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add the device or its user to one or more groups",
	RunE:  func(cmd *cobra.Command, args []string) error { return runBulkMembership(cmd, true) },
}

var groupsRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the device or its user from one or more groups",
	RunE:  func(cmd *cobra.Command, args []string) error { return runBulkMembership(cmd, false) },
}

var groupsClearCmd = &cobra.Command{
	Use:   "clear <group-id>",
	Short: "Bulk-remove members from a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newGraphClient()
		if err != nil {
			return err
		}
		groupID := args[0]

		membership, err := directory.GroupMembers(cmd.Context(), client, session, groupID)
		if err != nil {
			message.Error("Member listing failed: %v", err)
			return err
		}
		if membership.IsDynamic {
			message.Error("Cannot clear %q: dynamic membership is rule-managed", membership.GroupName)
			return mutate.ErrDynamicGroup
		}

		members := membership.Members
		if len(memberIDs) > 0 {
			members = filterMembers(members, memberIDs)
		} else if !confirmAll {
			return fmt.Errorf("clearing all %d members requires --all", len(members))
		}
		if len(members) == 0 {
			message.Info("Nothing to remove from %q", membership.GroupName)
			return nil
		}

		message.Info("Removing %d member(s) from %q", len(members), membership.GroupName)
		result, err := mutate.NewMutator(client, session).ClearMembers(cmd.Context(), groupID, members)
		if err != nil {
			message.Error("Bulk removal failed: %v", err)
			return err
		}

		for _, f := range result.Failures {
			message.Warning("Failed to remove %s (%s): %s", f.MemberName, f.MemberID, f.Reason)
		}
		if result.OK() {
			message.Success("Removed all %d members from %q", result.Removed, membership.GroupName)
		} else {
			message.Warning("Partial result: %d removed, %d failed out of %d",
				result.Removed, result.Failed, result.Total)
		}
		return nil
	},
}

func runBulkMembership(cmd *cobra.Command, add bool) error {
	if len(groupIDs) == 0 {
		return fmt.Errorf("at least one --group is required")
	}
	mdmDeviceID, err := requireDeviceID()
	if err != nil {
		return err
	}
	client, err := newGraphClient()
	if err != nil {
		return err
	}

	kind := directory.KindDevice
	if strings.EqualFold(targetMode, "user") {
		kind = directory.KindUser
	}
	principal, err := directory.ResolvePrincipal(cmd.Context(), client, mdmDeviceID, kind)
	if err != nil {
		message.Error("Failed to resolve principal: %v", err)
		return err
	}

	groups := make([]directory.GroupRef, len(groupIDs))
	for i, id := range groupIDs {
		groups[i] = directory.GroupRef{ID: id}
	}

	mutator := mutate.NewMutator(client, session)
	var results []mutate.GroupResult
	verb := "added to"
	if add {
		results, err = mutator.AddToGroups(cmd.Context(), principal.DirectoryID, groups)
	} else {
		verb = "removed from"
		results, err = mutator.RemoveFromGroups(cmd.Context(), principal.DirectoryID, groups)
	}
	if err != nil {
		message.Error("Refused: %v", err)
		return err
	}

	outputters.RenderGroupResults(results)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed == 0 {
		message.Success("%q %s %d group(s)", principal.DisplayName, verb, len(results))
	} else {
		message.Warning("%q %s %d group(s); %d failed", principal.DisplayName, verb, len(results)-failed, failed)
	}
	return nil
}

func filterMembers(members []directory.Member, ids []string) []directory.Member {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []directory.Member
	for _, m := range members {
		if want[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

func newSDKClient() (*directory.SDKClient, error) {
	token := rawToken
	if token != "" {
		cred, err := graph.NewStaticTokenCredential(token)
		if err != nil {
			return nil, err
		}
		return directory.NewSDKClient(cred)
	}
	cred, err := defaultAzureCredential()
	if err != nil {
		return nil, err
	}
	return directory.NewSDKClient(cred)
}

func init() {
	rootCmd.AddCommand(groupsCmd)
	groupsCmd.AddCommand(groupsSearchCmd)
	groupsCmd.AddCommand(groupsCreateCmd)
	groupsCmd.AddCommand(groupsMembersCmd)
	groupsCmd.AddCommand(groupsScanCmd)
	groupsCmd.AddCommand(groupsAddCmd)
	groupsCmd.AddCommand(groupsRemoveCmd)
	groupsCmd.AddCommand(groupsClearCmd)

	for _, cmd := range []*cobra.Command{groupsAddCmd, groupsRemoveCmd} {
		cmd.Flags().StringSliceVarP(&groupIDs, "group", "g", nil, "target group ID (repeatable)")
		cmd.Flags().StringVarP(&targetMode, "mode", "m", "device", "principal to modify: device or user")
	}
	groupsClearCmd.Flags().StringSliceVar(&memberIDs, "member", nil, "member ID to remove (repeatable; default all)")
	groupsClearCmd.Flags().BoolVar(&confirmAll, "all", false, "confirm removal of every member")
}
