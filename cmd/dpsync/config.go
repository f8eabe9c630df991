package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/config"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage dpsync configuration settings.

Configuration is loaded from:
  1. --config, when given
  2. $XDG_CONFIG_HOME/dpsync/config.yaml
  3. ~/.config/dpsync/config.yaml

Environment variables override scalar settings using the DPSYNC_ prefix:
  DPSYNC_PERFORMANCE_MAX_CONCURRENT_TRANSFERS=5
  DPSYNC_PERFORMANCE_BANDWIDTH_LIMIT=20MB
  DPSYNC_DAEMON_HTTP_ADDR=0.0.0.0:9465`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE:  runConfigPath,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configShowCmd, configEditCmd, configInitCmd, configPathCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

// configPath is the file config commands act on.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if cfg, err := loadConfig(); err == nil && cfg.File != "" {
		return cfg.File
	}
	return config.DefaultConfigPath()
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.File != "" {
		fmt.Printf("%s %s\n\n", output.LabelStyle.Render("Config file:"), cfg.File)
	} else {
		fmt.Printf("%s\n\n", output.LabelStyle.Render("Config file: (using defaults, no file found)"))
	}

	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	fmt.Print(string(data))

	var overrides []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "DPSYNC_") {
			overrides = append(overrides, kv)
		}
	}
	if len(overrides) > 0 {
		fmt.Printf("\n%s\n", output.LabelStyle.Render("Environment overrides:"))
		for _, kv := range overrides {
			fmt.Println("  " + kv)
		}
	}
	return nil
}

func runConfigEdit(_ *cobra.Command, _ []string) error {
	path, err := config.WriteDefault(configPath())
	if err != nil {
		return err
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	cmd := exec.Command(editor, path) //nolint:gosec // editor comes from the user's environment
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor exited: %w", err)
	}

	cfg, err := config.Load(path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		printError("configuration has errors: %v", err)
	}
	return nil
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path := configPath()
	_, statErr := os.Stat(path)
	path, err := config.WriteDefault(path)
	if err != nil {
		return err
	}
	if statErr == nil {
		printInfo("config file already exists: %s", path)
		return nil
	}
	printInfo("created %s", path)
	return nil
}

func runConfigPath(_ *cobra.Command, _ []string) error {
	fmt.Println(configPath())
	return nil
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	printInfo("%s %d sources, %d targets, %d content types", output.SuccessStyle.Render("valid:"),
		len(cfg.Sources), len(cfg.Targets), len(cfg.ContentTypes))
	return nil
}
