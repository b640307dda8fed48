package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/filipexyz/beacon/pkg/analytics"
)

var (
	trackParams     []string
	trackValidate   bool
	trackEngagement int64
	trackNoFlush    bool
)

var errEventRejected = errors.New("event rejected")

var trackCmd = &cobra.Command{
	Use:   "track <name> [json-params]",
	Short: "Track an event and deliver it",
	Long: `Track queues a single event and flushes it to the collector.

Parameters come from an optional JSON object and repeated --param flags:

  beacon track prompt_copy '{"prompt_id":"p1"}'
  beacon track prompt_copy --param prompt_id=p1 --param length=42`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := ""
		if len(args) > 1 {
			raw = args[1]
		}
		params, err := parseParams(raw, trackParams)
		if err != nil {
			return err
		}

		client, closeFn, err := openClient()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := cmd.Context()
		opts := analytics.TrackOptions{
			EngagementTimeMsec: trackEngagement,
			Validate:           trackValidate,
		}
		if !client.TrackEvent(ctx, args[0], params, opts) {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%w: %v", errEventRejected, err)
			}
			return fmt.Errorf("%w: %q failed validation", errEventRejected, args[0])
		}

		sent := true
		if !trackNoFlush {
			sent = client.Flush(ctx)
		}
		stats := client.Stats()

		if jsonOutput {
			return out.JSON(map[string]any{
				"event":     args[0],
				"client_id": client.ClientID(ctx),
				"sent":      sent,
				"stats":     stats,
			})
		}

		switch {
		case trackNoFlush:
			out.Success("Queued %s", args[0])
		case stats.Sent > 0:
			out.Success("Sent %s", args[0])
		case stats.Held > 0:
			out.Warn("%s held for replay (collector unreachable)", args[0])
		default:
			out.Error("%s was dropped by the collector", args[0])
		}
		out.KeyValue("Client ID", client.ClientID(ctx))
		if s, ok := client.Sessions().Current(); ok {
			out.KeyValue("Session ID", s.ID)
		}
		return nil
	},
}

func init() {
	trackCmd.Flags().StringArrayVarP(&trackParams, "param", "p", nil, "event parameter as key=value (repeatable)")
	trackCmd.Flags().BoolVar(&trackValidate, "validate", false, "also send the event to the debug endpoint")
	trackCmd.Flags().Int64Var(&trackEngagement, "engagement", 0, "engagement time in milliseconds")
	trackCmd.Flags().BoolVar(&trackNoFlush, "no-flush", false, "queue only; pending events are still sent on exit")
	rootCmd.AddCommand(trackCmd)
}
