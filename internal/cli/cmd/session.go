package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or reset the current session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the session without extending it",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeFn, err := openClient()
		if err != nil {
			return err
		}
		defer closeFn()

		sessions := client.Sessions()
		s, active := sessions.Peek(cmd.Context())
		remaining := sessions.SessionTimeRemaining()

		if jsonOutput {
			result := map[string]any{
				"active":       active,
				"window_sec":   int64(sessions.ExpirationWindow() / time.Second),
				"remaining_ms": remaining.Milliseconds(),
			}
			if s.ID != "" {
				result["session_id"] = s.ID
				result["last_activity"] = time.UnixMilli(s.Timestamp).UTC()
			}
			return out.JSON(result)
		}

		if s.ID == "" {
			out.Info("No session yet; one starts with the next tracked event")
			return nil
		}

		out.Header("Session")
		out.KeyValue("Session ID", s.ID)
		out.KeyValue("Last activity", formatTime(time.UnixMilli(s.Timestamp)))
		if active {
			out.KeyValue("Expires in", remaining.Round(time.Second).String())
		} else {
			out.KeyValue("Status", "expired")
		}
		return nil
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Start a new session now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeFn, err := openClient()
		if err != nil {
			return err
		}
		defer closeFn()

		id := client.Sessions().RegenerateSession(cmd.Context())

		if jsonOutput {
			return out.JSON(map[string]any{"session_id": id})
		}
		out.Success("New session %s", id)
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionResetCmd)
	rootCmd.AddCommand(sessionCmd)
}
