package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/conneroisu/modserve/internal/contenttype"
	"github.com/conneroisu/modserve/internal/errors"
	"github.com/conneroisu/modserve/internal/httpcache"
)

// FileHandler produces the response for a resolved regular file. A nil
// response declines the request.
type FileHandler func(r *http.Request, file string, info os.FileInfo, opts *Options) *Response

// DefaultFileHandler picks a strategy by extension: component sources are
// compiled, scripts are optionally rewritten, everything else is served
// as is.
func DefaultFileHandler(r *http.Request, file string, info os.FileInfo, opts *Options) *Response {
	switch {
	case opts.Compile.Cache != nil && hasExtension(file, opts.Compile.ComponentExtensions):
		return ComponentHandler(r, file, info, opts)
	case hasExtension(file, opts.Compile.ScriptExtensions):
		return ScriptHandler(r, file, info, opts)
	default:
		return StaticHandler(r, file, info, opts)
	}
}

// StaticHandler streams the file with its resolved content type. HTML gets
// the live reload client injected when enabled.
func StaticHandler(r *http.Request, file string, info os.FileInfo, opts *Options) *Response {
	ctype := contenttype.Resolve(file)

	resp := NewResponse(http.StatusOK)
	resp.Header.Set("Content-Type", ctype)
	httpcache.SetHeaders(resp.Header, opts.TTL, info.ModTime())

	if opts.LiveReload && ctype == "text/html" {
		data, err := os.ReadFile(file)
		if err != nil {
			return openFailed(r, file, err, opts)
		}
		resp.Body = bytes.NewReader(InjectScript(data, LiveReloadScriptPath))

		return resp
	}

	f, err := os.Open(file)
	if err != nil {
		return openFailed(r, file, err, opts)
	}
	resp.Header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	resp.Body = f

	return resp
}

// ScriptHandler serves an ES module, rewriting its import specifiers when
// RewriteImports is set.
func ScriptHandler(r *http.Request, file string, info os.FileInfo, opts *Options) *Response {
	resp := NewResponse(http.StatusOK)
	resp.Header.Set("Content-Type", "text/javascript")
	httpcache.SetHeaders(resp.Header, opts.TTL, info.ModTime())

	if !opts.Compile.RewriteImports {
		f, err := os.Open(file)
		if err != nil {
			return openFailed(r, file, err, opts)
		}
		resp.Header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
		resp.Body = f

		return resp
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return openFailed(r, file, err, opts)
	}
	resp.Body = strings.NewReader(opts.Compile.Rewriter.Rewrite(string(data), file, opts.Compile.Policy))

	return resp
}

// ComponentHandler serves the compiled output of a component source.
// Compile failures become error responses.
func ComponentHandler(r *http.Request, file string, info os.FileInfo, opts *Options) *Response {
	entry, err := opts.Compile.Cache.Compile(r.Context(), file, info.ModTime())
	if err != nil {
		opts.Logger.Warn(r.Context(), err, "Component compile failed", "file", file)
		return opts.ErrorHandler(r, errors.CompileFailed(file, err))
	}

	resp := NewResponse(http.StatusOK)
	resp.Header.Set("Content-Type", "text/javascript")
	resp.Header.Set("ETag", fmt.Sprintf(`"%016x"`, entry.Hash))
	httpcache.SetHeaders(resp.Header, ComponentTTL, info.ModTime())
	resp.Body = bytes.NewReader(entry.Code)

	return resp
}

func openFailed(r *http.Request, file string, err error, opts *Options) *Response {
	opts.Logger.Warn(r.Context(), err, "Failed to open file", "file", file)
	return opts.ErrorHandler(r, errors.NotFound(file).WithCause(err))
}

func hasExtension(file string, exts []string) bool {
	ext := filepath.Ext(file)
	for _, e := range exts {
		if ext == e {
			return true
		}
	}

	return false
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
