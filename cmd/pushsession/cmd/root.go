package cmd

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-session/sessionservice/config"
)

//go:embed local.yaml
var configFile []byte

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "pushsession",
	Short: "Client-side push notification session with an HTTP view and probe tools",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(newLogger())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (defaults to the embedded local.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-session")
}

// loadConfig layers .env, then YAML, then environment overrides.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded, continuing with system environment variables only", "err", err)
	}

	raw := configFile
	if configPath != "" {
		b, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
		raw = b
	}

	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return nil, err
	}
	return config.UpdateConfigWithEnvOverrides(baseCfg, logger)
}
