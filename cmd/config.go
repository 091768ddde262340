package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/modserve/internal/config"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Display the configuration modserve would run with, after loading the
config file, applying environment overrides and filling in defaults,
followed by the resolved static mapping table.

Examples:
  modserve config                  # YAML plus mapping table
  modserve config --format json    # JSON
  modserve config validate         # Only check the configuration`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)

	configCmd.Flags().StringVarP(&configFormat, "format", "f", "yaml", "Output format (yaml, json)")
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return writeConfig(cmd.OutOrStdout(), cfg, configFormat)
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%d static mappings)\n", len(cfg.Mappings))

	return err
}

func writeConfig(out io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "json":
		view, err := configView(cfg)
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(view)
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encoding configuration: %w", err)
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
		fmt.Fprintln(out)
		renderMappings(out, cfg)
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", format)
	}
}

func renderMappings(out io.Writer, cfg *config.Config) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Prefix", "Directory"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})

	module := cfg.ModuleMapping()
	rows := cfg.Mappings.Prepend(module)
	for _, m := range rows {
		table.Append([]string{m.Prefix, m.Path})
	}
	table.SetFooter([]string{fmt.Sprintf("%d mappings", len(rows)), ""})

	table.Render()
}

// configView re-reads cfg through its yaml tags so the JSON output uses the
// same key names as the config file, plus the resolved mapping table.
func configView(cfg *config.Config) (map[string]interface{}, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding configuration: %w", err)
	}

	view := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	view["mappings"] = cfg.Mappings

	return view, nil
}
