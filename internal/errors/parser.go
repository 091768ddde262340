package errors

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is one compiler message located in a source file.
type Diagnostic struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
	Snippet string `json:"snippet,omitempty"`
}

// String formats the diagnostic as file:line:column: message.
func (d Diagnostic) String() string {
	switch {
	case d.File == "":
		return d.Message
	case d.Line == 0:
		return fmt.Sprintf("%s: %s", d.File, d.Message)
	default:
		return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Message)
	}
}

// CompileError reports a component source that failed to compile.
type CompileError struct {
	File        string
	Diagnostics []Diagnostic
	Output      string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if len(e.Diagnostics) == 0 {
		if e.Output != "" {
			return fmt.Sprintf("compile %s: %s", e.File, strings.TrimSpace(e.Output))
		}
		return "compile " + e.File + ": failed"
	}

	parts := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		parts = append(parts, d.String())
	}

	return "compile " + e.File + ": " + strings.Join(parts, "; ")
}

type diagnosticPattern struct {
	regex *regexp.Regexp
	parse func(m []string) Diagnostic
}

var diagnosticPatterns = []diagnosticPattern{
	// file.jsx:3:14: ERROR: Expected ";" but found "x"
	{
		regex: regexp.MustCompile(`^(.+?):(\d+):(\d+):\s*(?:(?i:error):\s*)?(.+)$`),
		parse: func(m []string) Diagnostic {
			return Diagnostic{File: m[1], Line: atoi(m[2]), Column: atoi(m[3]), Message: m[4]}
		},
	},
	// file.jsx(3,14): error TS1005: ';' expected.
	{
		regex: regexp.MustCompile(`^(.+?)\((\d+),(\d+)\):\s*(?:(?i:error)\s*)?(.+)$`),
		parse: func(m []string) Diagnostic {
			return Diagnostic{File: m[1], Line: atoi(m[2]), Column: atoi(m[3]), Message: m[4]}
		},
	},
	// SyntaxError: Unexpected token (3:14)
	{
		regex: regexp.MustCompile(`^(\w*Error):\s*(.+?)\s*\((\d+):(\d+)\)$`),
		parse: func(m []string) Diagnostic {
			return Diagnostic{Line: atoi(m[3]), Column: atoi(m[4]), Message: m[1] + ": " + m[2]}
		},
	},
}

// ParseDiagnostics extracts located diagnostics from compiler output. Lines
// that match no known format but mention an error are kept unlocated.
// Diagnostics without a file are attributed to file.
func ParseDiagnostics(output, file string) []Diagnostic {
	var diags []Diagnostic

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		d, ok := parseLine(line)
		if !ok {
			lower := strings.ToLower(line)
			if !strings.Contains(lower, "error") && !strings.Contains(lower, "failed") {
				continue
			}
			d = Diagnostic{Message: line}
		}
		if d.File == "" {
			d.File = file
		}
		diags = append(diags, d)
	}

	return diags
}

func parseLine(line string) (Diagnostic, bool) {
	for _, p := range diagnosticPatterns {
		if m := p.regex.FindStringSubmatch(line); m != nil {
			return p.parse(m), true
		}
	}

	return Diagnostic{}, false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)

	return n
}
