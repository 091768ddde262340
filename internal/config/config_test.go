package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(newViper())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", cfg.Address())
	assert.Equal(t, DefaultTTL, cfg.TTL)
	assert.Equal(t, "index.html", cfg.Index)
	assert.Equal(t, []string{".jsx", ".tsx"}, cfg.Compile.ComponentExtensions)
	assert.Equal(t, CompilerESBuild, cfg.Compile.Compiler)
	assert.Equal(t, 30*time.Second, cfg.Compile.Timeout)
	assert.True(t, cfg.Compile.RewriteImports)
	assert.False(t, cfg.Compile.SingleFlight)
	assert.True(t, cfg.Development.LiveReload)

	require.Len(t, cfg.Mappings, 1)
	assert.Equal(t, "/", cfg.Mappings[0].Prefix)
	assert.True(t, filepath.IsAbs(cfg.Mappings[0].Path))

	assert.Equal(t, "/@module/", cfg.Mappings.Prepend(cfg.ModuleMapping())[0].Prefix)
	assert.Equal(t, "/@module/x/index.mjs", cfg.Resolver().Resolve("x"))
}

func TestLoadFrom_YAML(t *testing.T) {
	v := newViper()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
server:
  port: 8080
  host: localhost
  rate_limit: 20
static:
  - prefix: /
    path: /srv/public
  - prefix: /assets
    path: /srv/assets
ttl: 60
index_redirect: true
compile:
  component_extensions: [jsx, .svelte]
  compiler: command
  command: node
  args: [compile.mjs, "{file}"]
  timeout: 5s
  single_flight: true
  aliases:
    svelte/internal: /@module/svelte/src/runtime/internal
development:
  live_reload: false
`)))

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Address())
	assert.Equal(t, 20, cfg.Server.RateLimit)
	assert.Equal(t, 60, cfg.TTL)
	assert.True(t, cfg.IndexRedirect)
	assert.Equal(t, []string{".jsx", ".svelte"}, cfg.Compile.ComponentExtensions)
	assert.Equal(t, []string{"compile.mjs", "{file}"}, cfg.Compile.Args)
	assert.Equal(t, 5*time.Second, cfg.Compile.Timeout)
	assert.True(t, cfg.Compile.SingleFlight)
	assert.False(t, cfg.Development.LiveReload)

	require.Len(t, cfg.Mappings, 2)
	assert.Equal(t, "/", cfg.Mappings[0].Prefix)
	assert.Equal(t, "/assets/", cfg.Mappings[1].Prefix)

	policy := cfg.Policy()
	assert.Equal(t, "/@module/svelte/src/runtime/internal/index.js", policy("svelte/internal", cfg.Resolver().Resolve))
	assert.Equal(t, "/@module/other/index.mjs", policy("other", cfg.Resolver().Resolve))
}

func TestLoadFrom_StaticMapKeepsPrefixes(t *testing.T) {
	docs, api, public := t.TempDir(), t.TempDir(), t.TempDir()

	file := filepath.Join(t.TempDir(), "modserve.yml")
	data := fmt.Sprintf("static:\n  /Docs/: %q\n  /v1.2/: %q\n  /: %q\nttl: 30\n", docs, api, public)
	require.NoError(t, os.WriteFile(file, []byte(data), 0o644))

	v := newViper()
	v.SetConfigFile(file)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.TTL)

	require.Len(t, cfg.Mappings, 3)
	assert.Equal(t, "/Docs/", cfg.Mappings[0].Prefix)
	assert.Equal(t, docs, cfg.Mappings[0].Path)
	assert.Equal(t, "/v1.2/", cfg.Mappings[1].Prefix)
	assert.Equal(t, api, cfg.Mappings[1].Path)
	assert.Equal(t, "/", cfg.Mappings[2].Prefix)

	resolved, ok := cfg.Mappings.Resolve("/Docs/guide.md")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(docs, "guide.md"), resolved)

	resolved, ok = cfg.Mappings.Resolve("/v1.2/openapi.json")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(api, "openapi.json"), resolved)
}

func TestLoadFrom_StaticMapOrderFromFile(t *testing.T) {
	root, assets := t.TempDir(), t.TempDir()

	file := filepath.Join(t.TempDir(), "modserve.yaml")
	data := fmt.Sprintf("static:\n  /: %q\n  /assets/: %q\n", root, assets)
	require.NoError(t, os.WriteFile(file, []byte(data), 0o644))

	v := newViper()
	v.SetConfigFile(file)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	require.Len(t, cfg.Mappings, 2)
	assert.Equal(t, "/", cfg.Mappings[0].Prefix)
	assert.Equal(t, "/assets/", cfg.Mappings[1].Prefix)
}

func TestLoadFrom_StaticOverrideIgnoresFileMap(t *testing.T) {
	override := t.TempDir()

	file := filepath.Join(t.TempDir(), "modserve.yml")
	data := fmt.Sprintf("static:\n  /Docs/: %q\n", t.TempDir())
	require.NoError(t, os.WriteFile(file, []byte(data), 0o644))

	v := newViper()
	v.SetConfigFile(file)
	require.NoError(t, v.ReadInConfig())
	v.Set("static", override)

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	require.Len(t, cfg.Mappings, 1)
	assert.Equal(t, "/", cfg.Mappings[0].Prefix)
	assert.Equal(t, override, cfg.Mappings[0].Path)
}

func TestStaticFromFile(t *testing.T) {
	t.Run("no static map", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "modserve.yml")
		require.NoError(t, os.WriteFile(file, []byte("static: ./public\n"), 0o644))

		records, err := staticFromFile(file)
		require.NoError(t, err)
		assert.Nil(t, records)
	})

	t.Run("unsupported format", func(t *testing.T) {
		records, err := staticFromFile("modserve.toml")
		require.NoError(t, err)
		assert.Nil(t, records)
	})

	t.Run("nested value", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "modserve.yml")
		require.NoError(t, os.WriteFile(file, []byte("static:\n  /a/:\n    b: c\n"), 0o644))

		_, err := staticFromFile(file)
		assert.Error(t, err)
	})

	t.Run("json", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "modserve.json")
		require.NoError(t, os.WriteFile(file, []byte(`{"static": {"/B/": "b", "/A/": "a"}}`), 0o644))

		records, err := staticFromFile(file)
		require.NoError(t, err)
		assert.Equal(t, []interface{}{
			map[string]interface{}{"prefix": "/B/", "path": "b"},
			map[string]interface{}{"prefix": "/A/", "path": "a"},
		}, records)
	})
}

func TestLoadFrom_Environment(t *testing.T) {
	t.Setenv("MODSERVE_SERVER_PORT", "4321")
	t.Setenv("MODSERVE_TTL", "0")

	v := newViper()
	v.SetEnvPrefix("MODSERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 4321, cfg.Server.Port)
	assert.Equal(t, 0, cfg.TTL)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]interface{}
	}{
		{"port out of range", map[string]interface{}{"server.port": 70000}},
		{"port not a number", map[string]interface{}{"server.port": "invalid_port"}},
		{"dangerous host", map[string]interface{}{"server.host": "localhost;rm"}},
		{"negative ttl", map[string]interface{}{"ttl": -1}},
		{"index with path", map[string]interface{}{"index": "../index.html"}},
		{"bad extension", map[string]interface{}{"compile.component_extensions": []string{".a.b"}}},
		{"unknown compiler", map[string]interface{}{"compile.compiler": "gcc"}},
		{"command without command", map[string]interface{}{"compile.compiler": "command"}},
		{"empty static", map[string]interface{}{"static": ""}},
		{"module prefix traversal", map[string]interface{}{"module_prefix": "../x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := LoadFrom(v)
			assert.Error(t, err)
		})
	}
}

func TestLoad_GlobalViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults(viper.GetViper())
	dir := t.TempDir()
	viper.Set("static", dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Mappings[0].Path)

	_, err = os.Stat(cfg.Mappings[0].Path)
	assert.NoError(t, err)
}
