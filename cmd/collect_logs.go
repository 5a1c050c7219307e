package cmd

import (
	"github.com/entrascope/entrascope/internal/message"
	"github.com/entrascope/entrascope/pkg/directory"
	"github.com/entrascope/entrascope/pkg/mutate"
	"github.com/spf13/cobra"
)

var (
	logAppID   string
	logFolders []string
)

var collectLogsCmd = &cobra.Command{
	Use:   "collect-logs",
	Short: "Ask a device to collect and upload app diagnostic logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		mdmDeviceID, err := requireDeviceID()
		if err != nil {
			return err
		}
		client, err := newGraphClient()
		if err != nil {
			return err
		}

		user, err := directory.ResolvePrincipal(cmd.Context(), client, mdmDeviceID, directory.KindUser)
		if err != nil {
			message.Error("Log collection needs the device's primary user: %v", err)
			return err
		}

		err = mutate.RequestAppLogs(cmd.Context(), client, user.DirectoryID, mdmDeviceID, logAppID, logFolders)
		if err != nil {
			message.Error("Log collection request failed: %v", err)
			return err
		}
		message.Success("Log collection initiated; logs will be collected on the device and uploaded to Intune")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(collectLogsCmd)
	collectLogsCmd.Flags().StringVar(&logAppID, "app-id", "", "application ID to collect logs for")
	collectLogsCmd.Flags().StringSliceVar(&logFolders, "folder", nil, "log folder to collect (repeatable, e.g. %PROGRAMDATA%\\App\\Logs)")
	collectLogsCmd.MarkFlagRequired("app-id")
}
