// Package services wires configuration into a running modserve instance
// and provides the example JSON routes it mounts.
package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/conneroisu/modserve/internal/errors"
	"github.com/conneroisu/modserve/internal/server"
)

// ExampleOptions tunes the example routes.
type ExampleOptions struct {
	// ChunkEvents is the number of events /chunk sends. Defaults to 100.
	ChunkEvents int
	// ChunkInterval is the delay between events. Defaults to one second.
	ChunkInterval time.Duration
}

// Routes returns the example route table: /hello, /error and /chunk.
func Routes(opts ExampleOptions) map[string]server.RouteHandler {
	if opts.ChunkEvents <= 0 {
		opts.ChunkEvents = 100
	}
	if opts.ChunkInterval <= 0 {
		opts.ChunkInterval = time.Second
	}

	return map[string]server.RouteHandler{
		"/hello": Hello,
		"/error": Error,
		"/chunk": Chunk(opts.ChunkEvents, opts.ChunkInterval),
	}
}

// Hello echoes the query parameters merged with the body. Body keys win.
func Hello(_ string, query url.Values, body map[string]interface{}) (interface{}, error) {
	out := make(map[string]interface{}, len(query)+len(body))
	for key := range query {
		out[key] = query.Get(key)
	}
	for key, value := range body {
		out[key] = value
	}

	return out, nil
}

// Error always fails with a client error.
func Error(string, url.Values, map[string]interface{}) (interface{}, error) {
	return nil, errors.New("failed to do something", 12345, http.StatusBadRequest, "failed to do something")
}

// Chunk streams n server-sent events, interval apart. The stream stops as
// soon as the client disconnects.
func Chunk(n int, interval time.Duration) server.RouteHandler {
	return func(string, url.Values, map[string]interface{}) (interface{}, error) {
		resp := server.NewResponse(http.StatusOK)
		resp.Header.Set("Content-Type", "text/event-stream")
		resp.Header.Set("Cache-Control", "no-cache")
		resp.Stream = func(ctx context.Context, w io.Writer, flush func()) error {
			timer := time.NewTimer(interval)
			defer timer.Stop()

			for i := 0; i < n; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "event: data\ndata: %d\n\n", i); err != nil {
					return err
				}
				flush()

				if i == n-1 {
					break
				}
				timer.Reset(interval)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
				}
			}

			return nil
		}

		return resp, nil
	}
}
