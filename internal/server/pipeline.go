// Package server implements the modserve request dispatch pipeline and the
// stages that plug into it: static and component file serving, JSON route
// handlers, live reload and the development endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime/debug"

	"github.com/conneroisu/modserve/internal/errors"
	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/middleware"
)

// StreamFunc produces a response body incrementally. flush pushes what has
// been written so far to the client. ctx is the request context and is
// cancelled when the client goes away.
type StreamFunc func(ctx context.Context, w io.Writer, flush func()) error

// Response is what a stage produces when it handles a request.
//
// Exactly one of Body, Stream and Handler is normally set. A non-nil
// Handler takes over the whole exchange and Status, Header and the body
// fields are ignored. Body is closed after writing when it is an io.Closer.
type Response struct {
	Status  int
	Header  http.Header
	Body    io.Reader
	Stream  StreamFunc
	Handler http.Handler
}

// NewResponse creates a response with an empty header map.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// JSONResponse encodes v as the response body.
func JSONResponse(status int, v interface{}) (*Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}

	resp := NewResponse(status)
	resp.Header.Set("Content-Type", "application/json")
	resp.Body = bytesReader(data)

	return resp, nil
}

// Result is the outcome of a stage: it either responds or declines.
type Result struct {
	response *Response
}

// Respond returns a result that ends dispatch with resp.
func Respond(resp *Response) Result {
	return Result{response: resp}
}

// Decline returns a result that passes the request to the next stage.
func Decline() Result {
	return Result{}
}

// Handled reports whether the stage responded.
func (r Result) Handled() bool {
	return r.response != nil
}

// Response returns the stage's response, nil when it declined.
func (r Result) Response() *Response {
	return r.response
}

// Stage is one link in the dispatch pipeline. u is the stage's private copy
// of the request URL; a stage may modify it freely.
type Stage interface {
	Serve(u *url.URL, r *http.Request) Result
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(u *url.URL, r *http.Request) Result

// Serve calls f(u, r).
func (f StageFunc) Serve(u *url.URL, r *http.Request) Result {
	return f(u, r)
}

// HandlerStage answers exactly path with h and declines everything else.
func HandlerStage(path string, h http.Handler) Stage {
	return StageFunc(func(u *url.URL, _ *http.Request) Result {
		if u.Path != path {
			return Decline()
		}

		return Respond(&Response{Handler: h})
	})
}

// Pipeline dispatches each request through its stages in order. The first
// stage to respond wins; when every stage declines the fallback answers.
type Pipeline struct {
	stages   []Stage
	fallback Stage

	// Logger receives recovered panics and write failures.
	Logger logging.Logger
	// ErrorHandler turns recovered panics into responses.
	ErrorHandler ErrorHandler
}

// NewPipeline creates a pipeline. The fallback is required.
func NewPipeline(fallback Stage, stages ...Stage) (*Pipeline, error) {
	if fallback == nil {
		return nil, fmt.Errorf("pipeline requires a fallback stage")
	}

	kept := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if s != nil {
			kept = append(kept, s)
		}
	}

	return &Pipeline{
		stages:       kept,
		fallback:     fallback,
		Logger:       logging.Nop(),
		ErrorHandler: DefaultErrorHandler,
	}, nil
}

// ServeHTTP implements http.Handler.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := p.dispatch(r)
	if resp.Handler != nil {
		resp.Handler.ServeHTTP(w, r)
		return
	}

	p.write(w, r, resp)
}

func (p *Pipeline) dispatch(r *http.Request) *Response {
	for _, stage := range p.stages {
		if resp := p.serve(stage, r); resp != nil {
			return resp
		}
	}

	if resp := p.serve(p.fallback, r); resp != nil {
		return resp
	}

	return notFoundResponse()
}

// serve runs one stage on a fresh URL copy, recovering panics into an
// internal error response.
func (p *Pipeline) serve(stage Stage, r *http.Request) (resp *Response) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			p.Logger.Error(r.Context(), err, "Stage panicked",
				"request_id", middleware.RequestIDFromContext(r.Context()),
				"path", r.URL.Path,
				"stack", string(debug.Stack()))
			resp = p.ErrorHandler(r, errors.Internal(err))
		}
	}()

	return stage.Serve(cloneURL(r.URL), r).Response()
}

func (p *Pipeline) write(w http.ResponseWriter, r *http.Request, resp *Response) {
	if closer, ok := resp.Body.(io.Closer); ok {
		defer closer.Close()
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead || !bodyAllowed(status) {
		return
	}

	switch {
	case resp.Stream != nil:
		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err := resp.Stream(r.Context(), w, flush); err != nil && r.Context().Err() == nil {
			p.Logger.Warn(r.Context(), err, "Stream ended with error", "path", r.URL.Path)
		}
	case resp.Body != nil:
		if _, err := io.Copy(w, resp.Body); err != nil {
			p.Logger.Debug(r.Context(), "Response write interrupted", "path", r.URL.Path, "error", err)
		}
	}
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}

	return true
}

func cloneURL(u *url.URL) *url.URL {
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}

	return &c
}

func notFoundResponse() *Response {
	resp := NewResponse(http.StatusNotFound)
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Body = bytesReader([]byte("404 page not found\n"))

	return resp
}
