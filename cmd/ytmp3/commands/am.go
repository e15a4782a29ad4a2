package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/ytmp3/am"
	"github.com/teranos/ytmp3/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Inspect and validate configuration",
	Long: sym.AM + ` am - Inspect ytmp3 configuration ("I am")

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/ytmp3/config.toml)
3. User config (~/.ytmp3/am.toml)
4. Project config (./am.toml, searched up from the working directory)
5. Environment variables (YTMP3_* prefix, e.g. YTMP3_SERVER_PORT)

Examples:
  ytmp3 am show                    # Show current configuration
  ytmp3 am show --format json      # Show configuration in JSON format
  ytmp3 am get janitor.retention   # Get specific config value
  ytmp3 am validate                # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., dispatch.max_duration, worker.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Credentials never leave the process
	shown := *cfg
	if shown.Artifacts.S3.SecretAccessKey != "" {
		shown.Artifacts.S3.SecretAccessKey = "********"
	}
	if shown.Chat.Token != "" {
		shown.Chat.Token = "********"
	}

	out := cmd.OutOrStdout()
	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(shown, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Fprintln(out, string(data))

	case "yaml":
		data, err := yaml.Marshal(shown)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Fprintf(out, "# ytmp3 configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(shown)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Fprintf(out, "# ytmp3 configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := am.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}
	fmt.Fprintln(cmd.OutOrStdout(), am.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}
