// Package mapping resolves request paths to filesystem paths through an
// ordered table of URL prefix to directory mappings.
package mapping

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// StaticMapping maps a URL prefix onto a directory. Prefix always begins
// and ends with '/' once normalized.
type StaticMapping struct {
	Prefix string `yaml:"prefix" mapstructure:"prefix" json:"prefix"`
	Path   string `yaml:"path" mapstructure:"path" json:"path"`
}

// Table is an ordered list of mappings; the first matching prefix wins.
type Table []StaticMapping

// Normalize converts any of the accepted static configuration forms into a
// Table:
//
//   - a single root directory string, mounted at "/"
//   - a prefix to directory map
//   - a list of {prefix, path} records
//
// Go maps carry no insertion order, so entries of a Go map are ordered by
// descending prefix length (most specific first), then by prefix. Callers
// that know the written order pass the list form instead.
// Directory paths are made absolute.
func Normalize(static interface{}) (Table, error) {
	var table Table

	switch v := static.(type) {
	case nil:
		return nil, fmt.Errorf("static mapping is not configured")
	case string:
		if v == "" {
			return nil, fmt.Errorf("static root directory is empty")
		}
		table = Table{{Prefix: "/", Path: v}}
	case Table:
		table = append(Table(nil), v...)
	case []StaticMapping:
		table = append(Table(nil), v...)
	case map[string]string:
		for prefix, dir := range v {
			table = append(table, StaticMapping{Prefix: prefix, Path: dir})
		}
		sortBySpecificity(table)
	case map[string]interface{}:
		for prefix, dir := range v {
			s, ok := dir.(string)
			if !ok {
				return nil, fmt.Errorf("static mapping %q: path must be a string, got %T", prefix, dir)
			}
			table = append(table, StaticMapping{Prefix: prefix, Path: s})
		}
		sortBySpecificity(table)
	case []map[string]interface{}:
		for i, rec := range v {
			m, err := fromRecord(rec)
			if err != nil {
				return nil, fmt.Errorf("static mapping %d: %w", i, err)
			}
			table = append(table, m)
		}
	case []interface{}:
		for i, item := range v {
			rec, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("static mapping %d: expected {prefix, path} record, got %T", i, item)
			}
			m, err := fromRecord(rec)
			if err != nil {
				return nil, fmt.Errorf("static mapping %d: %w", i, err)
			}
			table = append(table, m)
		}
	default:
		return nil, fmt.Errorf("invalid static mapping of type %T", static)
	}

	if len(table) == 0 {
		return nil, fmt.Errorf("static mapping is empty")
	}

	for i := range table {
		if table[i].Path == "" {
			return nil, fmt.Errorf("static mapping %q has an empty path", table[i].Prefix)
		}
		abs, err := filepath.Abs(table[i].Path)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", table[i].Path, err)
		}
		table[i].Prefix = NormalizePrefix(table[i].Prefix)
		table[i].Path = abs
	}

	return table, nil
}

// NormalizePrefix ensures prefix begins and ends with '/'.
func NormalizePrefix(prefix string) string {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return prefix
}

func fromRecord(rec map[string]interface{}) (StaticMapping, error) {
	prefix, _ := rec["prefix"].(string)
	dir, _ := rec["path"].(string)
	if prefix == "" || dir == "" {
		return StaticMapping{}, fmt.Errorf("record needs both prefix and path")
	}

	return StaticMapping{Prefix: prefix, Path: dir}, nil
}

func sortBySpecificity(table Table) {
	sort.SliceStable(table, func(i, j int) bool {
		a, b := NormalizePrefix(table[i].Prefix), NormalizePrefix(table[j].Prefix)
		if len(a) != len(b) {
			return len(a) > len(b)
		}

		return a < b
	})
}

// Resolve maps requestPath to a filesystem path using the first mapping
// whose prefix matches. The remainder is cleaned as a rooted path before
// joining, so ".." segments can never climb above the mapped directory.
func (t Table) Resolve(requestPath string) (string, bool) {
	for _, m := range t {
		if !strings.HasPrefix(requestPath, m.Prefix) {
			continue
		}
		rest := path.Clean("/" + requestPath[len(m.Prefix):])

		return filepath.Join(m.Path, filepath.FromSlash(rest)), true
	}

	return "", false
}

// Prepend returns a new table with m in front, so it takes precedence.
func (t Table) Prepend(m StaticMapping) Table {
	m.Prefix = NormalizePrefix(m.Prefix)
	if abs, err := filepath.Abs(m.Path); err == nil {
		m.Path = abs
	}

	out := make(Table, 0, len(t)+1)
	out = append(out, m)

	return append(out, t...)
}

// Roots returns the distinct directories of the table in order.
func (t Table) Roots() []string {
	seen := make(map[string]bool, len(t))
	roots := make([]string, 0, len(t))
	for _, m := range t {
		if seen[m.Path] {
			continue
		}
		seen[m.Path] = true
		roots = append(roots, m.Path)
	}

	return roots
}

// URLPath maps a filesystem path back to the request path that serves it,
// using the first mapping whose directory contains file.
func (t Table) URLPath(file string) (string, bool) {
	for _, m := range t {
		rel, err := filepath.Rel(m.Path, file)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if rel == "." {
			return m.Prefix, true
		}

		return m.Prefix + filepath.ToSlash(rel), true
	}

	return "", false
}
