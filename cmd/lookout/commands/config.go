package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/errors"
)

// ConfigCmd groups the configuration subcommands
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and manage lookout configuration",
	Long: `Display and manage lookout configuration.

Configuration sources (later overrides earlier):
1. Built-in defaults
2. System config (/etc/lookout/lookout.toml)
3. User config (~/.lookout/lookout.toml)
4. Project config (./lookout.toml, searched upward)
5. --config file
6. Environment variables (LOOKOUT_*, PEXELS_API_KEY, SMTP_*)

Examples:
  lookout config show --format json
  lookout config get upload.max_mb
  lookout config validate
  lookout config init --path ./lookout.toml`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get one configuration value (dot notation, e.g. upload.max_mb)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and report unknown keys",
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	RunE:  runConfigInit,
}

var configWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which configuration files are checked",
	RunE:  runConfigWhere,
}

var (
	configFormat   string
	configInitPath string
	configForce    bool
)

// secretKeys are masked by show and get
var secretKeys = map[string]bool{
	"search.api_key":               true,
	"notify.smtp_pass":             true,
	"storage.s3.secret_access_key": true,
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	configInitCmd.Flags().StringVar(&configInitPath, "path", am.ProjectConfigName, "File to write")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file (kept as .back1)")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configValidateCmd)
	ConfigCmd.AddCommand(configInitCmd)
	ConfigCmd.AddCommand(configWhereCmd)
}

func effectiveSettings(cmd *cobra.Command) (map[string]interface{}, error) {
	explicit, _ := cmd.Flags().GetString("config")
	v, err := am.NewViper(explicit)
	if err != nil {
		return nil, err
	}
	for key := range secretKeys {
		if v.GetString(key) != "" {
			v.Set(key, "********")
		}
	}
	return v.AllSettings(), nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	settings, err := effectiveSettings(cmd)
	if err != nil {
		return err
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Printf("# lookout configuration\n%s", data)
	case "toml":
		data, err := toml.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Printf("# lookout configuration\n%s", data)
	default:
		return errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	explicit, _ := cmd.Flags().GetString("config")
	v, err := am.NewViper(explicit)
	if err != nil {
		return err
	}
	if !v.IsSet(key) {
		return errors.NewNotFoundError("configuration key %q not found", key)
	}
	if secretKeys[key] && v.GetString(key) != "" {
		fmt.Println("********")
		return nil
	}
	fmt.Println(v.Get(key))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	explicit, _ := cmd.Flags().GetString("config")
	clean := true
	for _, src := range am.ConfigSources(explicit) {
		if !src.Exists {
			continue
		}
		unknown, err := am.CheckUnknownKeys(src.Path)
		if err != nil {
			return err
		}
		for _, key := range unknown {
			clean = false
			pterm.Warning.Printf("%s: unknown key %q\n", src.Path, key)
		}
	}

	if clean {
		pterm.Success.Println("Configuration is valid")
	} else {
		pterm.Success.Println("Configuration is valid (unknown keys are ignored)")
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(configInitPath)
	if err != nil {
		return errors.Wrapf(err, "invalid path %s", configInitPath)
	}
	if err := am.WriteDefault(path, configForce); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func runConfigWhere(cmd *cobra.Command, args []string) error {
	explicit, _ := cmd.Flags().GetString("config")

	rows := [][]string{{"#", "Source", "Path", "Status"}}
	rows = append(rows, []string{"1", "default", "(built in)", "active"})
	for i, src := range am.ConfigSources(explicit) {
		status := "missing"
		if src.Exists {
			status = "active"
		}
		rows = append(rows, []string{fmt.Sprint(i + 2), sourceLabel(i, src), src.Path, status})
	}
	rows = append(rows, []string{fmt.Sprint(len(rows)), "env", am.EnvPrefix + "_*", "active"})

	fmt.Println("Configuration cascade (later overrides earlier):")
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func sourceLabel(i int, src am.Source) string {
	if src.Explicit {
		return "--config"
	}
	switch i {
	case 0:
		return "system"
	case 1:
		return "user"
	default:
		return "project"
	}
}
