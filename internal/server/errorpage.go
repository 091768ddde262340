package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/modserve/internal/errors"
)

// ErrorHandler converts an error into a response. It must always return a
// non-nil response.
type ErrorHandler func(r *http.Request, err error) *Response

// DefaultErrorHandler renders err as a structured JSON body, or as an HTML
// page when the client prefers HTML.
func DefaultErrorHandler(r *http.Request, err error) *Response {
	appErr := errors.AsAppError(err)

	if acceptsHTML(r) {
		var buf bytes.Buffer
		if renderErr := errorPage(appErr).Render(r.Context(), &buf); renderErr == nil {
			resp := NewResponse(appErr.Status)
			resp.Header.Set("Content-Type", "text/html; charset=utf-8")
			resp.Body = &buf

			return resp
		}
	}

	return errorJSON(appErr)
}

func errorJSON(appErr *errors.AppError) *Response {
	data, err := json.Marshal(appErr)
	if err != nil {
		data = []byte(`{"code":10501,"message":"internal error"}`)
	}

	resp := NewResponse(appErr.Status)
	resp.Header.Set("Content-Type", "application/json")
	resp.Body = bytes.NewReader(data)

	return resp
}

func acceptsHTML(r *http.Request) bool {
	if r == nil {
		return false
	}
	accept := r.Header.Get("Accept")
	html := strings.Index(accept, "text/html")
	if html < 0 {
		return false
	}
	jsonAt := strings.Index(accept, "application/json")

	return jsonAt < 0 || html < jsonAt
}

var titleCaser = cases.Title(language.English)

func errorPage(e *errors.AppError) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		heading := titleCaser.String(e.Message)
		if _, err := fmt.Fprintf(w,
			"<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%d %s</title>%s</head><body>",
			e.Status, templ.EscapeString(heading), errorPageStyle); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "<main><h1>%s</h1><p class=\"code\">Error %d</p>",
			templ.EscapeString(heading), e.Code); err != nil {
			return err
		}
		if e.Detail != "" {
			if err := errorDetail(e.Detail).Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "</main></body></html>\n")

		return err
	})
}

// errorDetail renders compiler output line by line so diagnostics stay
// readable.
func errorDetail(detail string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<pre>"); err != nil {
			return err
		}
		for _, line := range strings.Split(detail, "\n") {
			if _, err := io.WriteString(w, templ.EscapeString(line)+"\n"); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "</pre>")

		return err
	})
}

const errorPageStyle = `<style>
body{font-family:system-ui,sans-serif;background:#fafafa;color:#222;margin:0}
main{max-width:48rem;margin:4rem auto;padding:0 1rem}
h1{color:#b00020}
.code{color:#666}
pre{background:#fff;border:1px solid #ddd;padding:1rem;overflow:auto}
</style>`

// NotFoundStage always responds with a not-found error. It is the usual
// pipeline fallback.
func NotFoundStage(handler ErrorHandler) Stage {
	if handler == nil {
		handler = DefaultErrorHandler
	}

	return StageFunc(func(u *url.URL, r *http.Request) Result {
		return Respond(handler(r, errors.NotFound(u.Path)))
	})
}
