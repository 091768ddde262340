package server

import (
	"net/http"
	"net/url"

	"github.com/conneroisu/modserve/internal/build"
)

// Development endpoints.
const (
	CachePath   = "/_modserve/cache"
	HealthPath  = "/_modserve/health"
	MetricsPath = "/metrics"
)

// DevToolsOptions selects the development endpoints to serve. Nil fields
// disable their endpoint.
type DevToolsOptions struct {
	Cache   *build.CompileCache
	Health  http.Handler
	Metrics http.Handler
	Hub     *LiveReloadHub
}

// CacheReport is the body of the cache endpoint.
type CacheReport struct {
	Stats   build.Stats    `json:"stats"`
	Entries []*build.Entry `json:"entries"`
}

// NewDevToolsStage returns a stage serving the development endpoints:
// compile cache inspection, health, metrics and live reload.
func NewDevToolsStage(opts DevToolsOptions) Stage {
	handlers := make(map[string]http.Handler)
	if opts.Health != nil {
		handlers[HealthPath] = opts.Health
	}
	if opts.Metrics != nil {
		handlers[MetricsPath] = opts.Metrics
	}
	if opts.Hub != nil {
		handlers[LiveReloadPath] = opts.Hub
		handlers[LiveReloadScriptPath] = LiveReloadScriptHandler()
	}

	return StageFunc(func(u *url.URL, r *http.Request) Result {
		if u.Path == CachePath && opts.Cache != nil {
			resp, err := JSONResponse(http.StatusOK, CacheReport{
				Stats:   opts.Cache.Stats(),
				Entries: opts.Cache.Entries(),
			})
			if err != nil {
				return Respond(DefaultErrorHandler(r, err))
			}
			resp.Header.Set("Cache-Control", "no-store")

			return Respond(resp)
		}

		if h, ok := handlers[u.Path]; ok {
			return Respond(&Response{Handler: h})
		}

		return Decline()
	})
}
