package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/bedtime/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configValidateCmd, configPathCmd)
	configListCmd.Flags().Bool("show-secrets", false, "print api keys and tokens in full")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the config file",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every setting as dotted key = value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reveal, _ := cmd.Flags().GetBool("show-secrets")
		values, err := config.ListValues(loadConfig(), !reveal)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		return render(os.Stdout, outputFormat, values, func(w io.Writer) error {
			for _, k := range config.SortedKeys(values) {
				fmt.Fprintf(w, "%s = %v\n", k, values[k])
			}
			return nil
		})
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting (secrets masked)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		v, err := config.GetValue(cfgPath, key)
		if err != nil {
			return err
		}
		v = config.MaskSecrets(map[string]any{key: v})[key]
		return render(os.Stdout, outputFormat, map[string]any{key: v}, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, v)
			return err
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting; JSON values (numbers, booleans, arrays) are parsed",
	Example: `  bedtime config set rate_limit.generation 10
  bedtime config set llm.models '["gemini-1.5-pro","gemini-pro"]'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetValue(cfgPath, key, value); err != nil {
			return err
		}
		shown := config.MaskSecrets(map[string]any{key: value})[key]
		fmt.Fprintf(os.Stdout, "%s = %v\n", key, shown)

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config no longer loads: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: the daemon will refuse this config: %v\n", err)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config for settings the daemon cannot start with",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig().Validate(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Configuration OK:", cfgPath)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(os.Stdout, cfgPath)
	},
}
