package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/modserve/internal/build"
	"github.com/conneroisu/modserve/internal/config"
	"github.com/conneroisu/modserve/internal/errors"
	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/middleware"
	"github.com/conneroisu/modserve/internal/monitoring"
	"github.com/conneroisu/modserve/internal/rewrite"
	"github.com/conneroisu/modserve/internal/server"
	"github.com/conneroisu/modserve/internal/watcher"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// ServeService assembles and runs the development server
type ServeService struct {
	config  *config.Config
	logger  logging.Logger
	metrics *monitoring.Metrics
	health  *monitoring.HealthMonitor
	cache   *build.CompileCache
	hub     *server.LiveReloadHub
	handler http.Handler
}

// ServeOptions tunes optional parts of the service.
type ServeOptions struct {
	Examples ExampleOptions
	// Routes are mounted in addition to the example routes and override
	// them on equal paths.
	Routes map[string]server.RouteHandler
}

// NewServeService builds the request pipeline for cfg: development
// endpoints, routes and the component-aware static server, wrapped in the
// middleware stack.
func NewServeService(cfg *config.Config, logger logging.Logger, opts ServeOptions) (*ServeService, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	s := &ServeService{
		config:  cfg,
		logger:  logger,
		metrics: monitoring.NewMetrics(),
	}

	compiler, err := NewCompiler(cfg.Compile)
	if err != nil {
		return nil, err
	}

	rewriter := rewrite.New(cfg.Resolver(), logger)
	policy := cfg.Policy()

	s.cache, err = build.NewCompileCache(build.CacheOptions{
		Compiler:       compiler,
		Policy:         policy,
		RewriteImports: cfg.Compile.RewriteImports,
		Rewriter:       rewriter,
		SingleFlight:   cfg.Compile.SingleFlight,
		Logger:         logger,
		Recorder:       s.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating compile cache: %w", err)
	}

	if cfg.Development.LiveReload {
		s.hub = server.NewLiveReloadHub(cfg.Server.AllowedOrigins, logger, s.metrics.LiveReloadClients)
	}

	static, err := server.NewComponentServer(server.Options{
		Static:        cfg.Mappings,
		TTL:           cfg.TTL,
		Index:         cfg.Index,
		IndexRedirect: cfg.IndexRedirect,
		ModuleDir:     cfg.ModuleDir,
		ModulePrefix:  cfg.ModulePrefix,
		Compile: server.CompileOptions{
			RewriteImports:      cfg.Compile.RewriteImports,
			ComponentExtensions: cfg.Compile.ComponentExtensions,
			Cache:               s.cache,
			Rewriter:            rewriter,
			Policy:              policy,
		},
		LiveReload: cfg.Development.LiveReload,
		Logger:     logger.WithComponent("static"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating static server: %w", err)
	}

	s.health = monitoring.NewHealthMonitor(logger)
	s.health.RegisterCheck(monitoring.RootsHealthChecker(cfg.Mappings.Roots()))
	s.health.RegisterCheck(monitoring.GoroutineHealthChecker())

	routes := Routes(opts.Examples)
	for path, h := range opts.Routes {
		routes[path] = h
	}

	devtools := server.NewDevToolsStage(server.DevToolsOptions{
		Cache:   s.cache,
		Health:  s.health.HTTPHandler(),
		Metrics: s.metrics.Handler(),
		Hub:     s.hub,
	})

	pipeline, err := server.NewPipeline(server.NotFoundStage(nil), devtools, server.NewRouteStage(routes), static)
	if err != nil {
		return nil, err
	}
	pipeline.Logger = logger.WithComponent("pipeline")

	chain := middleware.NewDefaultChain(middleware.Dependencies{
		Logger:         logger,
		Recorder:       s.metrics,
		Environment:    cfg.Server.Environment,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		OnRateLimited:  s.metrics.RateLimited.Inc,
	})
	s.handler = chain.Apply(pipeline)

	return s, nil
}

// NewCompiler selects the component compiler named by cfg.
func NewCompiler(cfg config.CompileConfig) (build.Compiler, error) {
	switch cfg.Compiler {
	case "", config.CompilerESBuild:
		return build.NewESBuildCompiler(cfg.JSXImportSource), nil
	case config.CompilerCommand:
		c := build.NewCommandCompiler(cfg.Command, cfg.Args, cfg.Timeout)
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid compile command: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown compiler %q", cfg.Compiler)
	}
}

// Handler returns the complete HTTP handler.
func (s *ServeService) Handler() http.Handler {
	return s.handler
}

// Cache returns the compile cache.
func (s *ServeService) Cache() *build.CompileCache {
	return s.cache
}

// Serve runs the server, and the live reload watcher when enabled, until
// ctx is cancelled or either fails.
func (s *ServeService) Serve(ctx context.Context) error {
	srv := server.New(server.Config{
		Addr:    s.config.Address(),
		Handler: s.handler,
		Hub:     s.hub,
		Open:    s.config.Server.Open,
		Logger:  s.logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(gctx); err != nil {
			return s.startError(err)
		}
		return nil
	})

	if s.hub != nil {
		g.Go(func() error {
			return s.watch(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *ServeService) startError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "address already in use") || strings.Contains(msg, "bind") ||
		strings.Contains(msg, "permission denied") {
		return errors.NewEnhancedError(
			fmt.Sprintf("Failed to start server on port %d", s.config.Server.Port),
			err,
			errors.ServerStartError(err, s.config.Server.Port),
		)
	}

	return err
}

// watch broadcasts a reload for every debounced batch of changes under the
// static roots.
func (s *ServeService) watch(ctx context.Context) error {
	fw, err := watcher.NewFileWatcher(s.config.Development.Debounce, s.logger)
	if err != nil {
		return err
	}
	defer fw.Stop()

	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.NoNodeModulesFilter)
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddHandler(s.ReloadHandler())

	for _, root := range s.config.Mappings.Roots() {
		if err := fw.AddRecursive(root); err != nil {
			s.logger.Warn(ctx, err, "Failed to watch directory", "path", root)
		}
	}

	if err := fw.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	return nil
}

// ReloadHandler returns the watcher handler that maps changed files to
// request paths and notifies live reload clients.
func (s *ServeService) ReloadHandler() watcher.ChangeHandler {
	return func(events []watcher.ChangeEvent) error {
		if s.hub == nil {
			return nil
		}

		for _, event := range events {
			path, ok := s.config.Mappings.URLPath(event.Path)
			if !ok {
				continue
			}
			s.logger.Info(context.Background(), "File changed", "path", path, "type", event.Type.String())
			s.metrics.ReloadsTotal.Inc()
			s.hub.Broadcast(path)
		}

		return nil
	}
}
