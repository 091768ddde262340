// Package internal contains the implementation packages for modserve.
//
// These packages follow Go's internal package convention and are not
// importable by other modules.
//
// # Package Organization
//
//   - build: component compilers (esbuild, external command) and the
//     compiled output cache keyed by content hash
//   - config: configuration loading through viper, normalization and
//     validation
//   - contenttype: extension to content type lookup
//   - errors: application error codes, compiler diagnostics and terminal
//     suggestions
//   - httpcache: If-Modified-Since decisions and cache headers
//   - logging: structured logging on log/slog with file rotation
//   - mapping: the ordered URL prefix to directory table
//   - middleware: request ids, CORS and per-client rate limiting
//   - monitoring: prometheus metrics and health checks
//   - rewrite: bare import specifier rewriting for browser modules
//   - server: the stage pipeline, static and component servers, JSON
//     routes, live reload and the HTTP listener
//   - services: wiring of the packages above into a running server
//   - validation: origin, host, URL and argument checks
//   - version: build information
//   - watcher: recursive file watching with debouncing
//
// # Request Flow
//
// A request passes the middleware chain and then the pipeline. Each stage
// receives its own copy of the request URL and either responds or
// declines; the first response wins and the fallback stage answers
// when every stage declines. The static stage resolves the path through
// the mapping table, answers conditional requests with 304 and hands the
// file to the handler for its extension: components are compiled,
// scripts have their imports rewritten, and everything else is streamed.
//
// File changes reported by the watcher are mapped back to URL paths and
// broadcast to connected live reload clients.
package internal
