// Package cli implements the svgbatch command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/svgtranslate/svgbatch/internal/config"
)

var (
	cfgFile string
	verbose bool
	jsonOut bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "svgbatch",
	Short: "Batch job runner for SVG translation maintenance",
	Long: `svgbatch runs maintenance jobs against a wiki-style content host:
cropping main files, collecting file inventories, downloading files and
repairing cross-references. Jobs process items one at a time, checkpoint
partial results, and can be cancelled between items.

Quick start:
  svgbatch db health               Check database connectivity
  svgbatch jobs start crop_main_files
  svgbatch jobs list               Show recent jobs
  svgbatch serve                   Run scheduled jobs until interrupted`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .svgbatch/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newJobsCmd())
	rootCmd.AddCommand(newTasksCmd())
	rootCmd.AddCommand(newDBCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.AppDir)
		viper.AddConfigPath("$HOME/" + config.AppDir)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("SVGBATCH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig loads the effective configuration: file, then environment
// overrides for values that should not live in the file.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if used := viper.ConfigFileUsed(); used != "" {
			path = used
		} else {
			path = filepath.Join(config.AppDir, config.ConfigFileName)
		}
	}

	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, err
	}

	// SVGBATCH_DB_DSN and SVGBATCH_REMOTE_TOKEN override the file so
	// credentials stay out of it.
	if v := viper.GetString("db_dsn"); v != "" {
		cfg.Database.DSN = v
	}
	if v := viper.GetString("remote_token"); v != "" {
		cfg.Remote.Token = v
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
