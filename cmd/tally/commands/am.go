package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/display"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and validate tally configuration",
	Long: `am - Show and validate tally configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (TALLY_* prefix, e.g. TALLY_CLUSTERING_MIN_SAMPLES)
2. Working directory config (./tally.toml)
3. User config (~/.tally/tally.toml)
4. System config (/etc/tally/tally.toml)
5. Default values

--config replaces the file search with a single file.

Examples:
  tally am show                   # Show current configuration
  tally am show --format json     # Show configuration in JSON format
  tally am validate               # Validate current configuration
  tally am where                  # Show which files were loaded`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective tally configuration from all sources",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which configuration files were loaded",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var data []byte
	switch configFormat {
	case "json":
		data, err = display.MarshalJSON(cfg)
		data = append(data, '\n')
	case "yaml":
		data, err = display.MarshalYAML(cfg)
	case "toml":
		data, err = am.ToTOML(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config to %s: %w", configFormat, err)
	}

	if configFormat != "json" {
		fmt.Fprintln(cmd.OutOrStdout(), "# tally configuration")
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
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

	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	files := am.LoadedFiles()
	if len(files) == 0 {
		pterm.Info.Println("No config files found, using defaults and environment")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Loaded (later overrides earlier):")
	for i, f := range files {
		fmt.Fprintf(cmd.OutOrStdout(), "  %d. %s\n", i+1, f)
	}
	return nil
}
