package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "no imports",
			src:  "const a = 1;\nconsole.log(a / 2);\n",
			want: nil,
		},
		{
			name: "default and named imports",
			src:  "import a from 'alpha';\nimport { b, c as d } from \"beta\";\n",
			want: []string{"alpha", "beta"},
		},
		{
			name: "namespace and side effect imports",
			src:  "import * as ns from './ns.js'\nimport '../side.js'\n",
			want: []string{"./ns.js", "../side.js"},
		},
		{
			name: "re-exports",
			src:  "export * from 'x';\nexport { y } from \"/abs/y.mjs\";\nexport * as z from 'zed';\n",
			want: []string{"x", "/abs/y.mjs", "zed"},
		},
		{
			name: "local export is not a specifier",
			src:  "export { a, b };\nexport const c = 'from';\nimport d from 'delta';\n",
			want: []string{"delta"},
		},
		{
			name: "dynamic import",
			src:  "const m = await import('lazy');\nimport(name);\nimport('a' + b);\n",
			want: []string{"lazy"},
		},
		{
			name: "dynamic import with attributes",
			src:  "const data = await import('./data.json', { with: { type: 'json' } });\n",
			want: []string{"./data.json"},
		},
		{
			name: "regex after keyword condition",
			src:  "if (x) /import \"re\"/.test(s);\nwhile (y) /from 'no'/g.exec(t);\nimport ok from 'ok';\n",
			want: []string{"ok"},
		},
		{
			name: "division after call",
			src:  "const half = size(a) / 2;\nimport ok from 'ok'; const r = f(b) / c / d;\n",
			want: []string{"ok"},
		},
		{
			name: "import meta",
			src:  "const u = new URL('./x', import.meta.url);\n",
			want: nil,
		},
		{
			name: "imports inside comments and strings are ignored",
			src: "// import a from 'no'\n/* import b from 'no' */\n" +
				"const s = \"import c from 'no'\";\nconst t = `import d from 'no' ${x}`;\n" +
				"import real from 'yes';\n",
			want: []string{"yes"},
		},
		{
			name: "regex literal containing quotes",
			src:  "const re = /['\"]import/g;\nimport ok from 'ok';\n",
			want: []string{"ok"},
		},
		{
			name: "member named import",
			src:  "loader.import('x');\n",
			want: nil,
		},
		{
			name: "multiline clause",
			src:  "import {\n  a,\n  b, // trailing\n} from 'multi';\n",
			want: []string{"multi"},
		},
		{
			name: "unterminated string",
			src:  "import x from 'broken\n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs := Parse(tt.src)

			var names []string
			for _, s := range specs {
				names = append(names, s.Name)
				assert.Equal(t, s.Name, tt.src[s.Start:s.End])
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestParse_OrderedNonOverlapping(t *testing.T) {
	src := "import a from 'a';\nimport b from 'b';\nexport * from 'c';\nimport('d');\n"
	specs := Parse(src)
	require.Len(t, specs, 4)

	for i := 1; i < len(specs); i++ {
		assert.Greater(t, specs[i].Start, specs[i-1].End)
	}
	assert.True(t, specs[3].Dynamic)
}

func TestResolver_Resolve(t *testing.T) {
	r := DefaultResolver()

	assert.Equal(t, "/abs/x.js", r.Resolve("/abs/x.js"))
	assert.Equal(t, "./x.js", r.Resolve("./x.js"))
	assert.Equal(t, "../x.js", r.Resolve("../x.js"))
	assert.Equal(t, "/@module/foo/index.mjs", r.Resolve("foo"))
	assert.Equal(t, "/@module/@scope/pkg/index.mjs", r.Resolve("@scope/pkg"))

	custom := Resolver{ModulePrefix: "/vendor/", EntryFile: "main.js"}
	assert.Equal(t, "/vendor/foo/main.js", custom.Resolve("foo"))
}

func TestRewrite(t *testing.T) {
	t.Run("identity without imports", func(t *testing.T) {
		src := "export const x = 1;\n"
		assert.Equal(t, src, Rewrite(src, "x.js", nil))
	})

	t.Run("default policy", func(t *testing.T) {
		src := "import a from 'alpha';\nimport b from './b.js';\nexport * from \"/c.js\";\n"
		want := "import a from '/@module/alpha/index.mjs';\nimport b from './b.js';\nexport * from \"/c.js\";\n"
		assert.Equal(t, want, Rewrite(src, "main.js", nil))
	})

	t.Run("custom policy delegating to fallback", func(t *testing.T) {
		src := "import { h } from 'preact';\nimport x from 'other';\n"
		policy := func(name string, fallback func(string) string) string {
			if name == "preact" {
				return "/vendor/preact.mjs"
			}
			return fallback(name)
		}
		want := "import { h } from '/vendor/preact.mjs';\nimport x from '/@module/other/index.mjs';\n"
		assert.Equal(t, want, Rewrite(src, "main.js", policy))
	})

	t.Run("empty result degrades to sentinel", func(t *testing.T) {
		src := "import a from 'a';\nimport b from './b.js';\n"
		policy := func(name string, fallback func(string) string) string {
			if name == "a" {
				return ""
			}
			return fallback(name)
		}
		want := "import a from '<unknown-module-path>';\nimport b from './b.js';\n"
		assert.Equal(t, want, Rewrite(src, "main.js", policy))
	})
}

func TestAliasPolicy(t *testing.T) {
	policy := AliasPolicy(map[string]string{
		"svelte/internal": "/@module/svelte/src/runtime/internal",
		"svelte":          "/@module/svelte/src/runtime",
	}, "index.js")
	fallback := DefaultResolver().Resolve

	assert.Equal(t, "/@module/svelte/src/runtime/internal/index.js", policy("svelte/internal", fallback))
	assert.Equal(t, "/@module/svelte/src/runtime/internal/disclose-version/index.js",
		policy("svelte/internal/disclose-version", fallback))
	assert.Equal(t, "/@module/svelte/src/runtime/index.js", policy("svelte", fallback))
	assert.Equal(t, "/@module/sveltekit/index.mjs", policy("sveltekit", fallback))
	assert.Equal(t, "./local.js", policy("./local.js", fallback))
}
