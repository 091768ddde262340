package server

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/conneroisu/modserve/internal/build"
	"github.com/conneroisu/modserve/internal/httpcache"
	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/mapping"
	"github.com/conneroisu/modserve/internal/rewrite"
)

// Defaults applied by NewStaticServer.
const (
	DefaultTTL          = 10
	DefaultIndex        = "index.html"
	DefaultModulePrefix = "/@module/"
	// ComponentTTL is the cache lifetime of compiled component output.
	ComponentTTL = 5
)

// CompileOptions configures script rewriting and component compilation.
type CompileOptions struct {
	// RewriteImports rewrites module specifiers in served scripts.
	RewriteImports bool
	// ComponentExtensions lists the extensions compiled through Cache.
	// Defaults to .jsx and .tsx.
	ComponentExtensions []string
	// ScriptExtensions lists the extensions treated as ES modules.
	// Defaults to .js and .mjs.
	ScriptExtensions []string
	Cache            *build.CompileCache
	Rewriter         *rewrite.Rewriter
	Policy           rewrite.Policy
}

// Options configures a StaticServer.
type Options struct {
	Static        mapping.Table
	TTL           int
	Index         string
	IndexRedirect bool
	ErrorHandler  ErrorHandler
	FileHandler   FileHandler
	// CacheTTL reports the max-age FileHandler sends for file, so 304
	// responses repeat it. When nil, TTL is used, or ComponentTTL for
	// component sources when a compile cache is set; this matches
	// StaticHandler and DefaultFileHandler. Set it with a custom
	// FileHandler that sends other lifetimes.
	CacheTTL func(file string) int
	// ModuleDir is mounted at ModulePrefix by NewComponentServer.
	ModuleDir    string
	ModulePrefix string
	Compile      CompileOptions
	// LiveReload injects the reload client into served HTML.
	LiveReload bool
	Logger     logging.Logger
}

// StaticServer is a pipeline stage serving files from a mapping table.
type StaticServer struct {
	opts Options
}

// NewStaticServer creates a plain static file stage. Unset options take
// their defaults; the file handler defaults to StaticHandler.
func NewStaticServer(opts Options) (*StaticServer, error) {
	if len(opts.Static) == 0 {
		return nil, fmt.Errorf("static server requires at least one mapping")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Index == "" {
		opts.Index = DefaultIndex
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = DefaultErrorHandler
	}
	if opts.FileHandler == nil {
		opts.FileHandler = StaticHandler
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if len(opts.Compile.ComponentExtensions) == 0 {
		opts.Compile.ComponentExtensions = []string{".jsx", ".tsx"}
	}
	if len(opts.Compile.ScriptExtensions) == 0 {
		opts.Compile.ScriptExtensions = []string{".js", ".mjs"}
	}
	if opts.Compile.Rewriter == nil {
		opts.Compile.Rewriter = rewrite.New(rewrite.DefaultResolver(), opts.Logger)
	}

	return &StaticServer{opts: opts}, nil
}

// NewComponentServer creates a stage that also serves ModuleDir under the
// module prefix and compiles component sources. A compile cache backed by
// esbuild, using the automatic runtime of build.DefaultJSXImportSource, is
// created when none is supplied.
func NewComponentServer(opts Options) (*StaticServer, error) {
	if opts.ModuleDir == "" {
		return nil, fmt.Errorf("component server requires a module directory")
	}
	if opts.ModulePrefix == "" {
		opts.ModulePrefix = DefaultModulePrefix
	}
	opts.Static = opts.Static.Prepend(mapping.StaticMapping{Prefix: opts.ModulePrefix, Path: opts.ModuleDir})

	if opts.FileHandler == nil {
		opts.FileHandler = DefaultFileHandler
	}
	if opts.Compile.Cache == nil {
		cache, err := build.NewCompileCache(build.CacheOptions{
			Compiler:       build.NewESBuildCompiler(build.DefaultJSXImportSource),
			Policy:         opts.Compile.Policy,
			RewriteImports: opts.Compile.RewriteImports,
			Rewriter:       opts.Compile.Rewriter,
			Logger:         opts.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating compile cache: %w", err)
		}
		opts.Compile.Cache = cache
	}

	return NewStaticServer(opts)
}

// Options returns the effective options.
func (s *StaticServer) Options() Options {
	return s.opts
}

// Serve implements Stage.
func (s *StaticServer) Serve(u *url.URL, r *http.Request) Result {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return Decline()
	}

	file, ok := s.opts.Static.Resolve(u.Path)
	if !ok {
		return Decline()
	}

	info, err := os.Stat(file)
	if err != nil {
		return Decline()
	}

	if info.IsDir() {
		file = filepath.Join(file, s.opts.Index)
		u.Path = path.Join(u.Path, s.opts.Index)

		info, err = os.Stat(file)
		if err != nil {
			return Decline()
		}

		if s.opts.IndexRedirect && info.Mode().IsRegular() {
			resp := NewResponse(http.StatusFound)
			resp.Header.Set("Location", u.String())

			return Respond(resp)
		}
	}

	if !info.Mode().IsRegular() {
		return Decline()
	}

	if !httpcache.IsRequestModified(r, info.ModTime()) {
		resp := NewResponse(http.StatusNotModified)
		httpcache.SetHeaders(resp.Header, s.ttlFor(file), info.ModTime())

		return Respond(resp)
	}

	resp := s.opts.FileHandler(r, file, info, &s.opts)
	if resp == nil {
		return Decline()
	}

	return Respond(resp)
}

// ttlFor mirrors the lifetime the file handler would have sent.
func (s *StaticServer) ttlFor(file string) int {
	if s.opts.CacheTTL != nil {
		return s.opts.CacheTTL(file)
	}
	if s.opts.Compile.Cache != nil && hasExtension(file, s.opts.Compile.ComponentExtensions) {
		return ComponentTTL
	}

	return s.opts.TTL
}
