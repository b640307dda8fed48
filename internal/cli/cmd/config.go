package cmd

import (
	"errors"
	"io/fs"

	"github.com/spf13/cobra"

	cliconfig "github.com/filipexyz/beacon/internal/cli/config"
)

var (
	configMeasurementID string
	configAPISecret     string
	configEndpoint      string
	configDebugEndpoint string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = cliconfig.DefaultPath()
		}

		if jsonOutput {
			return out.JSON(map[string]any{
				"path":           path,
				"measurement_id": cfg.MeasurementID,
				"api_secret":     maskSecret(cfg.APISecret),
				"endpoint":       cfg.Endpoint,
				"debug_endpoint": cfg.DebugEndpoint,
				"data_dir":       cfg.DataDir,
			})
		}

		out.Header("Configuration")
		out.KeyValue("Profile", path)
		out.KeyValue("Measurement ID", cfg.MeasurementID)
		out.KeyValue("API Secret", maskSecret(cfg.APISecret))
		out.KeyValue("Endpoint", cfg.Endpoint)
		out.KeyValue("Debug endpoint", cfg.DebugEndpoint)
		out.KeyValue("Data dir", cfg.DataDir)
		if err := cfg.Validate(); err != nil {
			out.Warn("%v", err)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Save collector settings to the profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := cliconfig.Load(cfgFile)
		if errors.Is(err, fs.ErrNotExist) {
			profile = &cliconfig.Profile{}
		} else if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("measurement-id") {
			profile.MeasurementID = configMeasurementID
		}
		if flags.Changed("api-secret") {
			profile.APISecret = configAPISecret
		}
		if flags.Changed("endpoint") {
			profile.Endpoint = configEndpoint
		}
		if flags.Changed("debug-endpoint") {
			profile.DebugEndpoint = configDebugEndpoint
		}
		if flags.Changed("data-dir") {
			profile.DataDir = dataDir
		}

		if err := cliconfig.Save(profile, cfgFile); err != nil {
			return err
		}
		out.Success("Profile saved")
		return nil
	},
}

func init() {
	configSetCmd.Flags().StringVar(&configMeasurementID, "measurement-id", "", "collector measurement id")
	configSetCmd.Flags().StringVar(&configAPISecret, "api-secret", "", "collector API secret")
	configSetCmd.Flags().StringVar(&configEndpoint, "endpoint", "", "collect endpoint URL")
	configSetCmd.Flags().StringVar(&configDebugEndpoint, "debug-endpoint", "", "debug endpoint URL")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
