// Package contenttype maps file extensions to MIME types.
package contenttype

import "path/filepath"

// Fallback is returned for unrecognised extensions.
const Fallback = "application/octet-stream"

var types = map[string]string{
	".html": "text/html",
	".js":   "text/javascript",
	".mjs":  "text/javascript",
	".jsx":  "text/javascript",
	".tsx":  "text/javascript",
	".css":  "text/css",
	".json": "application/json",
	".map":  "application/json",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".wasm": "application/wasm",
	".bin":  Fallback,
}

// Resolve returns the MIME type for path. Extensions are matched
// case-sensitively; unknown extensions map to Fallback.
func Resolve(path string) string {
	if ct, ok := types[filepath.Ext(path)]; ok {
		return ct
	}

	return Fallback
}
