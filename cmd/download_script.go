package cmd

import (
	"os"

	"github.com/entrascope/entrascope/internal/message"
	"github.com/entrascope/entrascope/pkg/assignments"
	"github.com/spf13/cobra"
)

var scriptOutPath string

var downloadScriptCmd = &cobra.Command{
	Use:   "download-script <script-id>",
	Short: "Download a platform script's decoded content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newGraphClient()
		if err != nil {
			return err
		}

		script, err := assignments.DownloadScript(cmd.Context(), client, args[0])
		if err != nil {
			message.Error("Script download failed: %v", err)
			return err
		}

		path := scriptOutPath
		if path == "" {
			path = script.FileName
		}
		if err := os.WriteFile(path, script.Content, 0o600); err != nil {
			message.Error("Failed to write script: %v", err)
			return err
		}
		message.Success("Script saved to %s", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadScriptCmd)
	downloadScriptCmd.Flags().StringVarP(&scriptOutPath, "file", "f", "", "output path (default: the script's original file name)")
}
