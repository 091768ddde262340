package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/modserve/internal/config"
	"github.com/conneroisu/modserve/internal/errors"
	"github.com/conneroisu/modserve/internal/services"
)

var serveCmd = &cobra.Command{
	Use:     "serve [root]",
	Aliases: []string{"s"},
	Short:   "Start the development server",
	Long: `Start the development server.

Files under the static mapping are served with conditional caching. Bare
module imports in .js/.mjs files are rewritten to /@module/<pkg>/index.mjs,
which is served from the module directory. Component sources (.jsx, .tsx)
are compiled on request. With live reload on, browsers viewing served HTML
reload when a file under a static root changes.

Examples:
  modserve serve                        # Serve the current directory
  modserve serve ./public               # Serve ./public at /
  modserve serve --port 8080 --open     # Different port, open a browser
  PORT=8080 modserve serve              # Port from the environment`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", config.DefaultPort, "Port to serve on")
	serveCmd.Flags().String("host", config.DefaultHost, "Host to bind to")
	serveCmd.Flags().Bool("open", false, "Open a browser once listening")
	serveCmd.Flags().StringP("static", "s", ".", "Root directory served at /")
	serveCmd.Flags().String("module-dir", "node_modules", "Directory served under the module prefix")
	serveCmd.Flags().Int("ttl", config.DefaultTTL, "Cache lifetime in seconds for static files")
	serveCmd.Flags().Bool("index-redirect", false, "Redirect directory requests to their index file")
	serveCmd.Flags().Bool("rewrite-imports", true, "Rewrite bare module imports in scripts")
	serveCmd.Flags().Bool("live-reload", true, "Reload browsers when files change")
	serveCmd.Flags().Int("rate-limit", 0, "Requests per second per client (0 disables)")

	AddFlagValidation(serveCmd, "port", ValidatePort)
	AddFlagValidation(serveCmd, "ttl", ValidateTTL)

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.open", serveCmd.Flags().Lookup("open"))
	_ = viper.BindPFlag("static", serveCmd.Flags().Lookup("static"))
	_ = viper.BindPFlag("module_dir", serveCmd.Flags().Lookup("module-dir"))
	_ = viper.BindPFlag("ttl", serveCmd.Flags().Lookup("ttl"))
	_ = viper.BindPFlag("index_redirect", serveCmd.Flags().Lookup("index-redirect"))
	_ = viper.BindPFlag("compile.rewrite_imports", serveCmd.Flags().Lookup("rewrite-imports"))
	_ = viper.BindPFlag("development.live_reload", serveCmd.Flags().Lookup("live-reload"))
	_ = viper.BindPFlag("server.rate_limit", serveCmd.Flags().Lookup("rate-limit"))
}

func runServe(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		viper.Set("static", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}

	svc, err := services.NewServeService(cfg, logger, services.ServeOptions{})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Starting modserve at http://%s\n", cfg.Address())
	for _, m := range cfg.Mappings {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-12s -> %s\n", m.Prefix, m.Path)
	}

	return svc.Serve(ctx)
}

// loadConfig loads the global configuration, attaching suggestions to
// failures.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		path := viper.ConfigFileUsed()
		if path == "" {
			path = ".modserve.yml"
		}

		return nil, errors.NewEnhancedError(
			"Failed to load configuration",
			err,
			errors.ConfigurationError(err.Error(), path),
		)
	}

	return cfg, nil
}
