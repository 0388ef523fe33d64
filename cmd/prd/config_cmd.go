package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/steveyegge/prdledger/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Read and write project settings",
	Long: `Settings live in .taskmaster/config.yaml and may be overridden by PRD_*
environment variables (PRD_LOCK_TIMEOUT overrides lock.timeout).`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if !config.IsKnownKey(key) {
			return fmt.Errorf("unknown config key %q", key)
		}
		value := config.GetYamlConfig(key)
		if jsonOutput {
			outputJSON(map[string]string{"key": key, "value": value})
			return nil
		}
		fmt.Fprintln(stdout, value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a setting to .taskmaster/config.yaml",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetYamlConfig(key, value); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"key": key, "value": value})
			return nil
		}
		success("Set %s = %s", key, value)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every effective setting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := make(map[string]string, len(config.KnownKeys))
		for _, key := range config.KnownKeys {
			settings[key] = config.GetYamlConfig(key)
		}
		if jsonOutput {
			outputJSON(map[string]any{"file": config.ConfigFileUsed(), "settings": settings})
			return nil
		}
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if f := config.ConfigFileUsed(); f != "" {
			printf("# %s\n", f)
		}
		for _, k := range keys {
			fmt.Fprintf(stdout, "%-22s %s\n", k, settings[k])
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
