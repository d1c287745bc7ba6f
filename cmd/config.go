package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "scrum"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage scrum configuration.

Running bare 'scrum config' is the same as 'scrum config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# scrum configuration
# See: scrum config show (for effective values and sources)

# State/data directory (default: ~/.config/scrum)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/scrum/scrum.db)
# db_path: {{ .DBPath }}

# Directory holding attachment contents
# attachments_dir: {{ .AttachmentsDir }}

# User the CLI acts as when --as is not given
actor: "{{ .Actor }}"

# HTTP API port for 'scrum serve'
port: {{ .Port }}

log:
  # debug, info, warn or error
  level: "{{ .LogLevel }}"

# Story notifications
mail:
  # smtp, log (write messages to the log) or none
  transport: "{{ .MailTransport }}"
  host: "{{ .MailHost }}"
  port: {{ .MailPort }}
  # username: ""
  # password: ""
  from: "{{ .MailFrom }}"
  # Site domain used in story links
  domain: "{{ .MailDomain }}"
  max_attempts: {{ .MailMaxAttempts }}
`

type configTemplateData struct {
	StateDir        string
	DBPath          string
	AttachmentsDir  string
	Actor           string
	Port            int
	LogLevel        string
	MailTransport   string
	MailHost        string
	MailPort        int
	MailFrom        string
	MailDomain      string
	MailMaxAttempts int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:        viper.GetString("state_dir"),
		DBPath:          viper.GetString("db_path"),
		AttachmentsDir:  viper.GetString("attachments_dir"),
		Actor:           viper.GetString("actor"),
		Port:            viper.GetInt("port"),
		LogLevel:        viper.GetString("log.level"),
		MailTransport:   viper.GetString("mail.transport"),
		MailHost:        viper.GetString("mail.host"),
		MailPort:        viper.GetInt("mail.port"),
		MailFrom:        viper.GetString("mail.from"),
		MailDomain:      viper.GetString("mail.domain"),
		MailMaxAttempts: viper.GetInt("mail.max_attempts"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "SCRUM_STATE_DIR"},
	{Key: "db_path", EnvVar: "SCRUM_DB_PATH"},
	{Key: "attachments_dir", EnvVar: "SCRUM_ATTACHMENTS_DIR"},
	{Key: "actor", EnvVar: "SCRUM_ACTOR"},
	{Key: "port", EnvVar: "SCRUM_PORT"},
	{Key: "log.level", EnvVar: "SCRUM_LOG_LEVEL"},
	{Key: "mail.transport", EnvVar: "SCRUM_MAIL_TRANSPORT"},
	{Key: "mail.host", EnvVar: "SCRUM_MAIL_HOST"},
	{Key: "mail.port", EnvVar: "SCRUM_MAIL_PORT"},
	{Key: "mail.username", EnvVar: "SCRUM_MAIL_USERNAME"},
	{Key: "mail.password", EnvVar: "SCRUM_MAIL_PASSWORD"},
	{Key: "mail.from", EnvVar: "SCRUM_MAIL_FROM"},
	{Key: "mail.domain", EnvVar: "SCRUM_MAIL_DOMAIN"},
	{Key: "mail.max_attempts", EnvVar: "SCRUM_MAIL_MAX_ATTEMPTS"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Key == "mail.password" && viper.GetString(k.Key) != "" {
			val = "********"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-22s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'scrum config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
