// Package rewrite rewrites ES module import specifiers so that bare package
// names resolve to URLs the development server can serve.
//
// A rewrite pass parses a source text for its static and dynamic
// import/export specifiers and passes each one through a Policy. Policies
// compose by delegation: every policy receives the default policy as a
// fallback argument and may call it for names it does not care about.
package rewrite

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/conneroisu/modserve/internal/logging"
)

const (
	// DefaultModulePrefix is the URL segment bare specifiers are mounted under.
	DefaultModulePrefix = "@module"

	// DefaultEntryFile is the file appended to a rewritten package path.
	DefaultEntryFile = "index.mjs"

	// UnknownModulePath replaces a specifier no policy could resolve.
	UnknownModulePath = "<unknown-module-path>"
)

// Policy maps a specifier name to its replacement. fallback is the default
// policy. An empty result degrades that one specifier to UnknownModulePath.
type Policy func(name string, fallback func(string) string) string

// Resolver is the default policy: relative and absolute specifiers pass
// through, bare specifiers become /<ModulePrefix>/<name>/<EntryFile>.
type Resolver struct {
	ModulePrefix string
	EntryFile    string
}

// DefaultResolver returns a Resolver with the default prefix and entry file.
func DefaultResolver() Resolver {
	return Resolver{ModulePrefix: DefaultModulePrefix, EntryFile: DefaultEntryFile}
}

// Resolve applies the default policy to one specifier.
func (r Resolver) Resolve(name string) string {
	if IsPathSpecifier(name) {
		return name
	}

	prefix := strings.Trim(r.ModulePrefix, "/")
	if prefix == "" {
		prefix = DefaultModulePrefix
	}
	entry := r.EntryFile
	if entry == "" {
		entry = DefaultEntryFile
	}

	return "/" + prefix + "/" + name + "/" + entry
}

// IsPathSpecifier reports whether name is already a resolvable path.
func IsPathSpecifier(name string) bool {
	return strings.HasPrefix(name, "/") ||
		strings.HasPrefix(name, "./") ||
		strings.HasPrefix(name, "../")
}

// DefaultPolicy is the policy that always defers to the fallback.
func DefaultPolicy(name string, fallback func(string) string) string {
	return fallback(name)
}

// AliasPolicy maps specifiers equal to, or nested under, an alias key onto
// the alias target, with entry appended when non-empty. The longest matching
// key wins; unmatched names go to the fallback.
//
//	AliasPolicy(map[string]string{"preact/hooks": "/@module/preact/hooks/dist"}, "hooks.mjs")
//	"preact/hooks"     -> "/@module/preact/hooks/dist/hooks.mjs"
//	"preact/hooks/x"   -> "/@module/preact/hooks/dist/x/hooks.mjs"
func AliasPolicy(aliases map[string]string, entry string) Policy {
	keys := make([]string, 0, len(aliases))
	for k := range aliases {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	return func(name string, fallback func(string) string) string {
		for _, key := range keys {
			if name != key && !strings.HasPrefix(name, key+"/") {
				continue
			}
			target := strings.TrimRight(aliases[key], "/") + strings.TrimPrefix(name, key)
			if entry != "" {
				target = path.Join(target, entry)
			}

			return target
		}

		return fallback(name)
	}
}

// Rewriter rewrites specifiers with a fixed default policy.
type Rewriter struct {
	resolver Resolver
	logger   logging.Logger
}

// New creates a Rewriter. logger may be nil.
func New(resolver Resolver, logger logging.Logger) *Rewriter {
	if logger != nil {
		logger = logger.WithComponent("rewrite")
	}

	return &Rewriter{resolver: resolver, logger: logger}
}

// Rewrite returns source with every specifier replaced through policy. A nil
// policy uses the default policy. pathHint names the source in log output.
func (rw *Rewriter) Rewrite(source, pathHint string, policy Policy) string {
	specs := Parse(source)
	if len(specs) == 0 {
		return source
	}
	if policy == nil {
		policy = DefaultPolicy
	}

	var b strings.Builder
	b.Grow(len(source) + len(specs)*16)

	offset := 0
	for _, spec := range specs {
		b.WriteString(source[offset:spec.Start])
		offset = spec.End

		replacement := policy(spec.Name, rw.resolver.Resolve)
		if replacement == "" {
			replacement = UnknownModulePath
			if rw.logger != nil {
				rw.logger.Warn(context.Background(), nil, "Unresolved module specifier",
					"file", pathHint, "specifier", spec.Name)
			}
		}
		b.WriteString(replacement)
	}
	b.WriteString(source[offset:])

	if rw.logger != nil {
		rw.logger.Debug(context.Background(), "Rewrote module specifiers",
			"file", pathHint, "count", len(specs))
	}

	return b.String()
}

// Rewrite rewrites source with the default resolver.
func Rewrite(source, pathHint string, policy Policy) string {
	return New(DefaultResolver(), nil).Rewrite(source, pathHint, policy)
}
