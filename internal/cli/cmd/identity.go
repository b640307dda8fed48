package cmd

import (
	"github.com/spf13/cobra"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Inspect or reset the durable client identity",
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the client id and user properties",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeFn, err := openClient()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := cmd.Context()
		id := client.ClientID(ctx)
		props := client.UserProperties(ctx)

		if jsonOutput {
			return out.JSON(map[string]any{
				"client_id":       id,
				"user_properties": props,
			})
		}

		out.Header("Identity")
		out.KeyValue("Client ID", id)
		out.KeyValue("Data dir", cfg.DataDir)
		if len(props) > 0 {
			out.Divider()
			for name, value := range props {
				out.KeyValue(name, formatValue(value))
			}
		}
		return nil
	},
}

var identityResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Mint a new client id and forget user properties and session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeFn, err := openClient()
		if err != nil {
			return err
		}
		defer closeFn()

		id := client.ResetIdentity(cmd.Context())

		if jsonOutput {
			return out.JSON(map[string]any{"client_id": id})
		}
		out.Success("New client id %s", id)
		return nil
	},
}

var identitySetCmd = &cobra.Command{
	Use:   "set <property> [value]",
	Short: "Set a user property; omit the value to remove it",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeFn, err := openClient()
		if err != nil {
			return err
		}
		defer closeFn()

		var value any
		if len(args) > 1 {
			value = pairValue(args[1])
		}
		if !client.SetUserProperty(cmd.Context(), args[0], value) {
			return errInvalidProperty(args[0])
		}

		if jsonOutput {
			return out.JSON(map[string]any{"property": args[0], "value": value})
		}
		if value == nil {
			out.Success("Removed %s", args[0])
		} else {
			out.Success("Set %s", args[0])
		}
		return nil
	},
}

func init() {
	identityCmd.AddCommand(identityShowCmd)
	identityCmd.AddCommand(identityResetCmd)
	identityCmd.AddCommand(identitySetCmd)
	rootCmd.AddCommand(identityCmd)
}
