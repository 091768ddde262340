// Package validation checks user-supplied values that reach a shell, a
// browser or a response header before modserve acts on them.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

var shellMetacharacters = []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\\", "\"", "'"}

// ValidateArgument validates a command line argument to prevent injection attacks
func ValidateArgument(arg string) error {
	for _, char := range shellMetacharacters {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if strings.Contains(arg, "..") {
		return fmt.Errorf("contains path traversal: %s", arg)
	}

	if filepath.IsAbs(arg) && !strings.HasPrefix(arg, "/usr/bin/") && !strings.HasPrefix(arg, "/bin/") {
		return fmt.Errorf("absolute path not allowed: %s", arg)
	}

	return nil
}

// ValidateCommand validates a command name against an allowlist
func ValidateCommand(command string, allowedCommands map[string]bool) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if !allowedCommands[command] {
		return fmt.Errorf("command '%s' is not allowed", command)
	}

	if err := ValidateArgument(command); err != nil {
		return fmt.Errorf("invalid command '%s': %w", command, err)
	}

	return nil
}

// ValidateHost rejects listen hosts containing shell metacharacters.
func ValidateHost(host string) error {
	for _, char := range shellMetacharacters {
		if strings.Contains(host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}

	return nil
}

// ValidateOrigin checks a WebSocket Origin header against the serving host
// and any extra allowed origins.
func ValidateOrigin(origin string, allowedOrigins []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}

	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme '%s': only http and https are allowed", originURL.Scheme)
	}

	for _, allowed := range allowedOrigins {
		if origin == allowed || originURL.Host == allowed {
			return nil
		}
	}

	return fmt.Errorf("origin '%s' is not in allowed origins list", origin)
}

// ValidateExtension checks a configured file extension such as ".jsx".
func ValidateExtension(ext string) error {
	if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
		return fmt.Errorf("extension %q must start with a dot", ext)
	}
	if strings.ContainsAny(ext, `/\ `) || strings.Count(ext, ".") != 1 {
		return fmt.Errorf("extension %q is not a single suffix", ext)
	}

	return nil
}

// ValidateURL checks a URL before it is handed to the platform's browser
// opener, which runs through a shell on some systems.
func ValidateURL(rawURL string) error {
	if strings.ContainsAny(rawURL, " \t\r\n") {
		return fmt.Errorf("URL %q contains whitespace", rawURL)
	}
	for _, char := range shellMetacharacters {
		if strings.Contains(rawURL, char) {
			return fmt.Errorf("URL contains dangerous character: %s", char)
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("URL scheme %q not allowed", u.Scheme)
	case u.Hostname() == "":
		return fmt.Errorf("URL %q has no host", rawURL)
	}

	return nil
}
