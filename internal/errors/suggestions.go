package errors

import (
	"fmt"
	"strings"
)

// ErrorSuggestion is one hint printed under a failure in the terminal.
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// suggestionRule adds hints when any of its fragments occurs in an error
// message.
type suggestionRule struct {
	fragments []string
	hints     func() []ErrorSuggestion
}

func (r suggestionRule) matches(msg string) bool {
	for _, f := range r.fragments {
		if strings.Contains(msg, f) {
			return true
		}
	}

	return false
}

func applyRules(msg string, rules []suggestionRule) []ErrorSuggestion {
	var out []ErrorSuggestion
	for _, rule := range rules {
		if rule.matches(msg) {
			out = append(out, rule.hints()...)
		}
	}

	return out
}

// ServerStartError explains a listener that failed to bind.
func ServerStartError(err error, port int) []ErrorSuggestion {
	rules := []suggestionRule{
		{
			fragments: []string{"address already in use", "bind"},
			hints: func() []ErrorSuggestion {
				return []ErrorSuggestion{
					{
						Title:       "Port already in use",
						Description: fmt.Sprintf("Another process is listening on port %d", port),
						Command:     fmt.Sprintf("lsof -i :%d", port),
					},
					{
						Title:       "Use a different port",
						Description: "Pass --port or set PORT",
						Command:     fmt.Sprintf("modserve serve --port %d", port+1000),
					},
				}
			},
		},
	}
	if port < 1024 {
		rules = append(rules, suggestionRule{
			fragments: []string{"permission denied"},
			hints: func() []ErrorSuggestion {
				return []ErrorSuggestion{{
					Title:       "Use an unprivileged port",
					Description: "Binding below 1024 needs elevated privileges",
					Command:     fmt.Sprintf("modserve serve --port %d", 3000),
				}}
			},
		})
	}

	return applyRules(err.Error(), rules)
}

var configRules = []suggestionRule{
	{
		fragments: []string{"yaml", "unmarshal"},
		hints: func() []ErrorSuggestion {
			return []ErrorSuggestion{{
				Title:       "Fix YAML syntax",
				Description: "The configuration file could not be decoded",
				Example:     "indent with spaces, not tabs",
			}}
		},
	},
	{
		fragments: []string{"static"},
		hints: func() []ErrorSuggestion {
			return []ErrorSuggestion{{
				Title:       "Configure a static root",
				Description: "static takes a directory, a prefix map, or a list of {prefix, path} records",
				Example:     "static:\n  /: ./public",
			}}
		},
	},
	{
		fragments: []string{"compiler", "compile.command"},
		hints: func() []ErrorSuggestion {
			return []ErrorSuggestion{{
				Title:       "Check the component compiler",
				Description: "compile.compiler is esbuild or command; command also needs compile.command",
				Example:     "compile:\n  compiler: command\n  command: babel",
			}}
		},
	},
}

// ConfigurationError explains a configuration that failed to load.
func ConfigurationError(configError string, configPath string) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Check configuration file",
			Description: "Make sure " + configPath + " exists and is valid YAML",
			Command:     "cat " + configPath,
		},
		{
			Title:       "Show effective configuration",
			Description: "Print what modserve resolved from file, environment and flags",
			Command:     "modserve config",
		},
	}

	return append(suggestions, applyRules(configError, configRules)...)
}

// FormatSuggestions renders title followed by a numbered suggestion list.
func FormatSuggestions(title string, suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return title
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nSuggestions:\n", title)
	for i, s := range suggestions {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, s.Title)
		for _, line := range []struct{ label, value string }{
			{"", s.Description},
			{"Run: ", s.Command},
			{"Example: ", s.Example},
		} {
			if line.value != "" {
				fmt.Fprintf(&b, "     %s%s\n", line.label, line.value)
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

// EnhancedError is an error carrying terminal suggestions.
type EnhancedError struct {
	OriginalError error
	Title         string
	Suggestions   []ErrorSuggestion
}

func (e *EnhancedError) Error() string {
	return FormatSuggestions(e.Title, e.Suggestions)
}

func (e *EnhancedError) Unwrap() error {
	return e.OriginalError
}

// NewEnhancedError wraps originalError with a title and suggestions.
func NewEnhancedError(title string, originalError error, suggestions []ErrorSuggestion) *EnhancedError {
	return &EnhancedError{
		OriginalError: originalError,
		Title:         title,
		Suggestions:   suggestions,
	}
}
