package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/cpe/configs"
	"github.com/Aman-CERP/cpe/internal/config"
	"github.com/Aman-CERP/cpe/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace configuration",
		Long: `Inspect the effective workspace configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. cpm.yaml in the project root
  3. Environment variables (CPE_*)`,
		Example: `  # Show effective configuration
  cpectl config show

  # Show as JSON
  cpectl config show --json

  # Print the config file path that would be used (cpm.yaml in the project root)
  cpectl config path`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a cpm.yaml template into the current directory",
		Long:  `Write the commented cpm.yaml template, documenting every config field with its default, to the current directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing cpm.yaml")

	return cmd
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("cpectl config init: %w", err)
	}
	path := filepath.Join(cwd, "cpm.yaml")

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("cpectl config init: %s already exists (use --force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("cpectl config init: writing %s: %w", path, err)
	}

	out := output.New(cmd.OutOrStdout())
	out.Statusf("", "wrote %s", path)
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  `Show the effective configuration after merging defaults, cpm.yaml, and environment variables.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved config path (cpm.yaml in the project root)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("cpectl config path: %w", err)
			}
			root, err := config.FindProjectRoot(cwd)
			if err != nil {
				return fmt.Errorf("cpectl config path: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(root, "cpm.yaml"))
			return nil
		},
	}
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("cpectl config show: %w", err)
	}
	root, err := config.FindProjectRoot(cwd)
	if err != nil {
		root = cwd
	}

	cfgPath := filepath.Join(root, "cpm.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("cpectl config show: %w", err)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("cpectl config show: marshaling config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	out.Statusf("", "Configuration source: defaults + %s + env", cfgPath)
	out.Newline()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cpectl config show: marshaling config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	return nil
}
