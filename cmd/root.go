// Package cmd provides the command-line interface for modserve with
// configuration drawn from several sources.
//
// Configuration System:
//
//	Sources in order of precedence:
//	1. Command-line flags (--port, --static, etc.) - highest priority
//	2. Individual environment variables (MODSERVE_SERVER_PORT, etc.)
//	3. Configuration file: --config, else MODSERVE_CONFIG_FILE, else .modserve.yml
//	4. Built-in defaults - lowest priority
//
// Environment Variables:
//
//	MODSERVE_CONFIG_FILE: Path to custom configuration file
//	MODSERVE_SERVER_PORT: Override server port
//	MODSERVE_COMPILE_REWRITE_IMPORTS: Enable/disable import rewriting
//	And others following the MODSERVE_<SECTION>_<OPTION> pattern
//	PORT: Listener port, honoured when no port flag is given
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/modserve/internal/config"
	"github.com/conneroisu/modserve/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "modserve",
	Short: "A development server for ES modules and single-file components",
	Long: `modserve serves a directory tree to the browser during development.

It resolves requests through a static mapping table, answers conditional
requests with 304s, rewrites bare module imports so they load from
/@module/, and compiles JSX/TSX components on request, caching the output
until the source changes.

Quick Start:
  modserve serve                      Serve the current directory
  modserve serve --static ./public    Serve a different root
  modserve config                     Show the effective configuration
  modserve version                    Show version information`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .modserve.yml, can also use MODSERVE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig points viper at the configuration file and environment.
//
// Configuration file selection (highest to lowest):
//  1. --config flag
//  2. MODSERVE_CONFIG_FILE environment variable
//  3. .modserve.yml in the current directory
//
// A missing file is not an error; defaults and environment still apply.
func initConfig() {
	configureViper(viper.GetViper(), cfgFile)

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func configureViper(v *viper.Viper, file string) {
	config.SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else if envConfigFile := os.Getenv("MODSERVE_CONFIG_FILE"); envConfigFile != "" {
		v.SetConfigFile(envConfigFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".modserve")
	}

	v.SetEnvPrefix("MODSERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", "MODSERVE_SERVER_PORT", "PORT")
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	lc := &logging.LoggerConfig{
		Level:  level,
		Format: cfg.Format,
		Output: out,
	}
	if cfg.File != "" {
		lc.File = &logging.FileConfig{
			Path:       cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	}

	return logging.NewLogger(lc), nil
}
