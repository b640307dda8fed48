package cmd

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"
)

var (
	validateParams []string
	validateJq     string
)

var validateCmd = &cobra.Command{
	Use:   "validate <name> [json-params]",
	Short: "Check an event against the debug endpoint",
	Long: `Validate assembles an event exactly as track would and sends it to the
debug endpoint. Nothing is queued or recorded.

Use --jq to filter the diagnostics; $payload holds the assembled payload:

  beacon validate prompt_copy --jq '.validationMessages[].description'
  beacon validate prompt_copy --jq '$payload.events[0].params'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := ""
		if len(args) > 1 {
			raw = args[1]
		}
		params, err := parseParams(raw, validateParams)
		if err != nil {
			return err
		}

		var code *gojq.Code
		if validateJq != "" {
			code, err = compileJqFilter(validateJq)
			if err != nil {
				return fmt.Errorf("invalid jq filter: %w", err)
			}
		}

		client, closeFn, err := openClient()
		if err != nil {
			return err
		}
		defer closeFn()

		payload, resp, err := client.Validate(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}

		if code != nil {
			results, err := runJqFilter(code, resp, payload)
			if err != nil {
				return err
			}
			for _, r := range results {
				if s, ok := r.(string); ok {
					fmt.Fprintln(cmd.OutOrStdout(), s)
					continue
				}
				data, err := json.Marshal(r)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
			return nil
		}

		if jsonOutput {
			return out.JSON(map[string]any{
				"payload":            payload,
				"validationMessages": resp.ValidationMessages,
			})
		}

		if resp.Valid() {
			out.Success("%s is valid", args[0])
			return nil
		}

		out.Warn("%s has %d problem(s)", args[0], len(resp.ValidationMessages))
		out.Divider()
		for _, m := range resp.ValidationMessages {
			field := m.FieldPath
			if field == "" {
				field = "(event)"
			}
			out.KeyValue(m.ValidationCode, field+": "+m.Description)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringArrayVarP(&validateParams, "param", "p", nil, "event parameter as key=value (repeatable)")
	validateCmd.Flags().StringVar(&validateJq, "jq", "", "jq filter applied to the diagnostics")
	rootCmd.AddCommand(validateCmd)
}
