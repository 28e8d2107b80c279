package cli

import (
	"fmt"
	"slices"

	"github.com/masoudn84/npm-offline-package-mirror/internal/branding"
	"github.com/masoudn84/npm-offline-package-mirror/internal/config"
	"github.com/spf13/cobra"
)

var configReveal bool

func init() {
	configGetCmd.Flags().BoolVar(&configReveal, "reveal", false, "Print secret values instead of masking them")
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage user settings",
	Long: `Read and write settings stored at ~/` + branding.HomeDir() + `/config.yaml (or --config).
Every key can also be set through the environment, e.g. ` + branding.EnvVar(config.KeyRegistryURL) + `.`,
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Set a configuration value",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.Keys,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := config.Open(cfgFile)
		if err != nil {
			return err
		}
		key, value := args[0], args[1]
		if err := store.Set(key, value); err != nil {
			return fmt.Errorf("setting config key %q: %w", key, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, displayValue(key, value, false))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:       "get <key>",
	Short:     "Get a configuration value",
	Args:      cobra.ExactArgs(1),
	ValidArgs: config.Keys,
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if !slices.Contains(config.Keys, key) {
			return fmt.Errorf("unknown config key %q", key)
		}
		store, err := config.Open(cfgFile)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), displayValue(key, store.Get(key), configReveal))
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the effective settings from file, environment and defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(cfgFile, nil)
		if err != nil {
			return err
		}
		kv := settings.Redacted()
		out := cmd.OutOrStdout()
		for i := 0; i+1 < len(kv); i += 2 {
			fmt.Fprintf(out, "%s %v\n", labelStyle.Width(22).Render(fmt.Sprint(kv[i])), kv[i+1])
		}
		return nil
	},
}

// displayValue masks secrets unless reveal is set.
func displayValue(key, value string, reveal bool) string {
	if reveal || value == "" || !config.IsSecret(key) {
		return value
	}
	return "****"
}
