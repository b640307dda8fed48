package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/filipexyz/beacon/internal/failure"
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Inspect failures that could not be reported",
}

var failuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backed-up failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeFn, err := openClient()
		if err != nil {
			return err
		}
		defer closeFn()

		backups, err := client.Failures().Backups(cmd.Context())
		if err != nil {
			return err
		}
		if backups == nil {
			backups = []failure.Backup{}
		}

		if jsonOutput {
			return out.JSON(backups)
		}

		if len(backups) == 0 {
			out.Info("No backed-up failures")
			return nil
		}

		out.Header("Failures")
		for _, b := range backups {
			out.Divider()
			out.KeyValue("When", formatTime(time.UnixMilli(b.Timestamp)))
			out.KeyValue("Context", b.Context)
			out.KeyValue(b.Name, b.Message)
		}
		return nil
	},
}

var failuresClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete backed-up failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeFn, err := openClient()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := client.Failures().ClearBackups(cmd.Context()); err != nil {
			return err
		}

		if jsonOutput {
			return out.JSON(map[string]any{"cleared": true})
		}
		out.Success("Failure backups cleared")
		return nil
	},
}

func init() {
	failuresCmd.AddCommand(failuresListCmd)
	failuresCmd.AddCommand(failuresClearCmd)
	rootCmd.AddCommand(failuresCmd)
}
