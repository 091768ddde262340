// Package config provides configuration management for modserve using
// Viper for loading from files, environment variables, and command-line
// flags.
//
// The configuration supports a .modserve.yml file, environment overrides
// with the MODSERVE_ prefix, validation, and security checks. It covers the
// listener, the static mapping table, component compilation, live reload,
// and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/modserve/internal/build"
	"github.com/conneroisu/modserve/internal/mapping"
	"github.com/conneroisu/modserve/internal/rewrite"
	"github.com/conneroisu/modserve/internal/validation"
)

const (
	DefaultHost  = "0.0.0.0"
	DefaultPort  = 3000
	DefaultTTL   = 10
	DefaultIndex = "index.html"
)

type Config struct {
	Server        ServerConfig      `yaml:"server" mapstructure:"server"`
	Static        interface{}       `yaml:"static" mapstructure:"static"`
	ModuleDir     string            `yaml:"module_dir" mapstructure:"module_dir"`
	ModulePrefix  string            `yaml:"module_prefix" mapstructure:"module_prefix"`
	EntryFile     string            `yaml:"entry_file" mapstructure:"entry_file"`
	TTL           int               `yaml:"ttl" mapstructure:"ttl"`
	Index         string            `yaml:"index" mapstructure:"index"`
	IndexRedirect bool              `yaml:"index_redirect" mapstructure:"index_redirect"`
	Compile       CompileConfig     `yaml:"compile" mapstructure:"compile"`
	Development   DevelopmentConfig `yaml:"development" mapstructure:"development"`
	Log           LogConfig         `yaml:"log" mapstructure:"log"`

	// Mappings is Static normalized into an ordered table.
	Mappings mapping.Table `yaml:"-" mapstructure:"-"`
}

type ServerConfig struct {
	Host           string   `yaml:"host" mapstructure:"host"`
	Port           int      `yaml:"port" mapstructure:"port"`
	Open           bool     `yaml:"open" mapstructure:"open"`
	Environment    string   `yaml:"environment" mapstructure:"environment"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit int `yaml:"rate_limit" mapstructure:"rate_limit"`
}

type CompileConfig struct {
	RewriteImports      bool              `yaml:"rewrite_imports" mapstructure:"rewrite_imports"`
	ComponentExtensions []string          `yaml:"component_extensions" mapstructure:"component_extensions"`
	Compiler            string            `yaml:"compiler" mapstructure:"compiler"`
	Command             string            `yaml:"command" mapstructure:"command"`
	Args                []string          `yaml:"args" mapstructure:"args"`
	Timeout             time.Duration     `yaml:"timeout" mapstructure:"timeout"`
	SingleFlight        bool              `yaml:"single_flight" mapstructure:"single_flight"`
	Aliases             map[string]string `yaml:"aliases" mapstructure:"aliases"`
	AliasEntry          string            `yaml:"alias_entry" mapstructure:"alias_entry"`
	JSXImportSource     string            `yaml:"jsx_import_source" mapstructure:"jsx_import_source"`
}

type DevelopmentConfig struct {
	LiveReload bool          `yaml:"live_reload" mapstructure:"live_reload"`
	Debounce   time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// Compiler names accepted by compile.compiler.
const (
	CompilerESBuild = "esbuild"
	CompilerCommand = "command"
)

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.rate_limit", 0)

	v.SetDefault("static", ".")
	v.SetDefault("module_dir", "node_modules")
	v.SetDefault("module_prefix", rewrite.DefaultModulePrefix)
	v.SetDefault("entry_file", rewrite.DefaultEntryFile)
	v.SetDefault("ttl", DefaultTTL)
	v.SetDefault("index", DefaultIndex)
	v.SetDefault("index_redirect", false)

	v.SetDefault("compile.rewrite_imports", true)
	v.SetDefault("compile.component_extensions", []string{".jsx", ".tsx"})
	v.SetDefault("compile.compiler", CompilerESBuild)
	v.SetDefault("compile.timeout", 30*time.Second)
	v.SetDefault("compile.single_flight", false)
	v.SetDefault("compile.jsx_import_source", build.DefaultJSXImportSource)

	v.SetDefault("development.live_reload", true)
	v.SetDefault("development.debounce", 100*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads, normalizes and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Slices set through flags or env arrive as comma separated strings.
	if v.IsSet("compile.component_extensions") {
		config.Compile.ComponentExtensions = v.GetStringSlice("compile.component_extensions")
	}
	if v.IsSet("compile.args") {
		config.Compile.Args = v.GetStringSlice("compile.args")
	}
	if v.IsSet("server.allowed_origins") {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if config.Index == "" {
		config.Index = DefaultIndex
	}
	if config.ModulePrefix == "" {
		config.ModulePrefix = rewrite.DefaultModulePrefix
	}
	if config.EntryFile == "" {
		config.EntryFile = rewrite.DefaultEntryFile
	}
	if config.Compile.Compiler == "" {
		config.Compile.Compiler = CompilerESBuild
	}
	if config.Compile.AliasEntry == "" && len(config.Compile.Aliases) > 0 {
		config.Compile.AliasEntry = "index.js"
	}
	for i, ext := range config.Compile.ComponentExtensions {
		ext = strings.TrimSpace(ext)
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		config.Compile.ComponentExtensions[i] = ext
	}

	// viper lowercases map keys and splits them on dots, so a prefix map
	// from the config file is read again as written.
	if _, isMap := config.Static.(map[string]interface{}); isMap {
		records, err := staticFromFile(v.ConfigFileUsed())
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: static: %w", err)
		}
		if records != nil {
			config.Static = records
		}
	}

	table, err := mapping.Normalize(config.Static)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: static: %w", err)
	}
	config.Mappings = table

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// staticFromFile returns the static prefix map of a YAML or JSON config
// file as an ordered list of {prefix, path} records, keeping key case and
// file order. It returns nil when the file has no static map.
func staticFromFile(path string) ([]interface{}, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, nil
	}

	root := doc.Content[0].Content
	for i := 0; i+1 < len(root); i += 2 {
		if !strings.EqualFold(root[i].Value, "static") {
			continue
		}
		node := resolveAlias(root[i+1])
		if node.Kind != yaml.MappingNode {
			return nil, nil
		}

		records := make([]interface{}, 0, len(node.Content)/2)
		for j := 0; j+1 < len(node.Content); j += 2 {
			prefix, dir := node.Content[j].Value, resolveAlias(node.Content[j+1])
			if dir.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("static mapping %q: path must be a string", prefix)
			}
			records = append(records, map[string]interface{}{"prefix": prefix, "path": dir.Value})
		}

		return records, nil
	}

	return nil, nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}

	return n
}

// ModuleMapping returns the mapping that mounts ModuleDir at ModulePrefix.
func (c *Config) ModuleMapping() mapping.StaticMapping {
	return mapping.StaticMapping{Prefix: c.ModulePrefix, Path: c.ModuleDir}
}

// Resolver returns the default rewrite resolver for this configuration.
func (c *Config) Resolver() rewrite.Resolver {
	return rewrite.Resolver{ModulePrefix: c.ModulePrefix, EntryFile: c.EntryFile}
}

// Policy returns the rewrite policy, honouring compile.aliases.
func (c *Config) Policy() rewrite.Policy {
	if len(c.Compile.Aliases) == 0 {
		return rewrite.DefaultPolicy
	}

	return rewrite.AliasPolicy(c.Compile.Aliases, c.Compile.AliasEntry)
}

// Address returns host:port for the listener.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateCompileConfig(&config.Compile); err != nil {
		return fmt.Errorf("compile config: %w", err)
	}

	if config.TTL < 0 {
		return fmt.Errorf("ttl %d must not be negative", config.TTL)
	}

	if config.Index != filepath.Base(config.Index) {
		return fmt.Errorf("index %q must be a file name, not a path", config.Index)
	}

	if strings.Contains(config.ModulePrefix, "..") {
		return fmt.Errorf("module_prefix contains path traversal: %s", config.ModulePrefix)
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if err := validation.ValidateHost(config.Host); err != nil {
		return err
	}

	if config.RateLimit < 0 {
		return fmt.Errorf("rate_limit %d must not be negative", config.RateLimit)
	}

	return nil
}

// validateCompileConfig validates compile configuration values
func validateCompileConfig(config *CompileConfig) error {
	for _, ext := range config.ComponentExtensions {
		if err := validation.ValidateExtension(ext); err != nil {
			return fmt.Errorf("component_extensions: %w", err)
		}
	}

	switch config.Compiler {
	case CompilerESBuild:
	case CompilerCommand:
		if config.Command == "" {
			return fmt.Errorf("compiler %q requires compile.command", CompilerCommand)
		}
		if err := validation.ValidateArgument(config.Command); err != nil {
			return fmt.Errorf("command: %w", err)
		}
	default:
		return fmt.Errorf("unknown compiler %q (expected %q or %q)", config.Compiler, CompilerESBuild, CompilerCommand)
	}

	if config.Timeout < 0 {
		return fmt.Errorf("timeout %s must not be negative", config.Timeout)
	}

	return nil
}
