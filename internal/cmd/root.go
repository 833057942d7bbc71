// Package cmd provides the command-line interface for docharvest.
// It handles command parsing, configuration loading, and task execution.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/docharvest/internal/config"
	"github.com/masahif/docharvest/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd(viper.GetViper())

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

// flagBinding maps a viper key to the flag that overrides it
type flagBinding struct {
	viperKey string
	flagName string
}

// sharedBindings are the persistent flags every subcommand inherits
var sharedBindings = []flagBinding{
	{"log.level", "log-level"},
	{"log.format", "log-format"},
	{"log.file", "log-file"},
	{"log.max_size", "log-max-size"},
	{"log.max_backups", "log-max-backups"},
	{"pool.core_size", "core-size"},
	{"pool.max_size", "max-size"},
	{"pool.keep_alive", "keep-alive"},
	{"pool.queue_capacity", "queue-capacity"},
	{"pool.rejection_policy", "rejection-policy"},
	{"storage.driver", "driver"},
	{"storage.dsn", "dsn"},
	{"storage.database_name", "database"},
	{"storage.batch_size", "batch-size"},
	{"crawl.save_directory", "save-dir"},
	{"crawl.request_timeout", "timeout"},
	{"crawl.poll_timeout", "poll-timeout"},
	{"crawl.backfill_wait", "backfill-wait"},
	{"crawl.user_agents", "user-agent"},
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	defaults := config.DefaultConfig()

	root := &cobra.Command{
		Use:   "docharvest",
		Short: "A document harvester that crawls sites into content files and a metadata store",
		Long: `docharvest crawls web sites from seed URLs, records every discovered URL in a
metadata store (SQLite or Postgres) and appends page bodies to rotating binary
content files.

Run a single task in the foreground with "crawl", or start the administrative
HTTP server with "serve".`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if show, _ := cmd.Flags().GetBool("show-config"); show {
				cfg, err := loadConfig(v, cmd)
				if err != nil {
					return err
				}
				return showCurrentConfig(cmd.OutOrStdout(), cfg)
			}
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default is ./docharvest.yml)")
	pf.Bool("show-config", false, "Display current configuration in YAML format and exit")

	pf.String("log-level", defaults.Log.Level, "Log level: debug, info, warn, error")
	pf.String("log-format", defaults.Log.Format, "Log format: json or text")
	pf.String("log-file", "", "Write logs to this file as well as stderr")
	pf.Int64("log-max-size", defaults.Log.MaxSize, "Log file size in MB before it is rotated (0=never)")
	pf.Int("log-max-backups", defaults.Log.MaxBackups, "Rotated log files to keep")

	pf.Int("core-size", defaults.Pool.CoreSize, "Worker pool core size")
	pf.Int("max-size", defaults.Pool.MaxSize, "Worker pool maximum size")
	pf.Duration("keep-alive", defaults.Pool.KeepAlive, "Idle time before a non-core worker exits")
	pf.Int("queue-capacity", defaults.Pool.QueueCapacity, "Worker pool backlog size (0=unbounded)")
	pf.String("rejection-policy", defaults.Pool.RejectionPolicy, "Rejection policy: abort, caller_runs, discard, discard_oldest")

	pf.String("driver", defaults.Storage.Driver, "Metadata store driver: sqlite or postgres")
	pf.String("dsn", "", "Postgres connection string")
	pf.String("database", defaults.Storage.DatabaseName, "SQLite file name inside the save directory")
	pf.Int("batch-size", defaults.Storage.BatchSize, "Rows per insert transaction")

	pf.String("save-dir", defaults.Crawl.SaveDirectory, "Directory for content files and the SQLite database")
	pf.Duration("timeout", defaults.Crawl.RequestTimeout, "HTTP request timeout")
	pf.Duration("poll-timeout", defaults.Crawl.PollTimeout, "Frontier poll timeout")
	pf.Duration("backfill-wait", defaults.Crawl.BackfillWait, "How long backfill waits for the first rows")
	pf.StringSlice("user-agent", nil, "User-Agent pool to pick from (default is the built-in browser pool)")
	pf.StringSliceP("header", "H", nil, "Custom HTTP headers in 'Name: Value' format (use multiple times for multiple headers)")

	bindFlags(v, pf, sharedBindings)

	root.AddCommand(newCrawlCmd(v), newServeCmd(v), newInspectCmd())
	return root
}

// bindFlags binds each flag to its viper key. Unknown flags are a programming
// error and panic at start-up.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings []flagBinding) {
	for _, bind := range bindings {
		flag := flags.Lookup(bind.flagName)
		if flag == nil {
			panic(fmt.Sprintf("flag %s is not defined", bind.flagName))
		}
		if err := v.BindPFlag(bind.viperKey, flag); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", bind.flagName, err))
		}
	}
}

// loadConfig merges defaults, the config file, DH_ environment variables and
// flags, in increasing order of precedence.
func loadConfig(v *viper.Viper, cmd *cobra.Command) (*config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("docharvest")
	}

	v.SetEnvPrefix("DH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	cfg := config.DefaultConfig()
	if err := setDefaults(v, cfg); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Crawl.UserAgents) == 0 {
		cfg.Crawl.UserAgents = append([]string(nil), config.DefaultUserAgents...)
	}

	rawHeaders, _ := cmd.Flags().GetStringSlice("header")
	headers, err := parseHeaders(rawHeaders)
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		if cfg.Crawl.Headers == nil {
			cfg.Crawl.Headers = make(map[string]string, len(headers))
		}
		for name, value := range headers {
			cfg.Crawl.Headers[name] = value
		}
	}
	return cfg, nil
}

// setDefaults registers every key of cfg with viper so environment variables
// reach keys that no flag or config file mentions.
func setDefaults(v *viper.Viper, cfg *config.Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode default config: %w", err)
	}
	walkDefaults(v, "", tree)
	return nil
}

func walkDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for name, value := range tree {
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if sub, ok := value.(map[string]any); ok && len(sub) > 0 {
			walkDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, value)
	}
}

// parseHeaders splits "Name: Value" pairs
func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: Value'", h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

// setupLogging installs the default logger. The caller closes the returned
// closer on exit so the log file is released.
func setupLogging(cfg *config.Config) (io.Closer, error) {
	settings := logging.FromSettings(cfg.Log.Level, cfg.Log.Format, cfg.Log.File, cfg.Log.MaxSize, cfg.Log.MaxBackups)
	closer, err := logging.SetDefault(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return closer, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func showCurrentConfig(out io.Writer, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	validation := ""
	if err := cfg.Validate(); err != nil {
		validation = fmt.Sprintf("# Warning: configuration validation failed: %v\n", err)
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	_, _ = fmt.Fprintf(out, "# Current docharvest configuration\n")
	_, _ = fmt.Fprintf(out, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(out, "# Configuration file search paths: ./docharvest.yml\n")
	_, _ = fmt.Fprintf(out, "# Environment variables prefix: DH_\n")
	_, _ = fmt.Fprint(out, validation, "\n")
	_, _ = out.Write(yamlData)

	_, _ = fmt.Fprintf(out, "\n# Configuration source priority:\n")
	_, _ = fmt.Fprintf(out, "# 1. Command-line arguments (highest priority)\n")
	_, _ = fmt.Fprintf(out, "# 2. Environment variables (DH_ prefix)\n")
	_, _ = fmt.Fprintf(out, "# 3. Configuration file (docharvest.yml)\n")
	_, _ = fmt.Fprintf(out, "# 4. Default values (lowest priority)\n")
	return nil
}
