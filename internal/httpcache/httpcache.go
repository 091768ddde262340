// Package httpcache implements the conditional GET decision and the cache
// headers shared by every file response.
package httpcache

import (
	"fmt"
	"net/http"
	"time"
)

const (
	HeaderCacheControl    = "Cache-Control"
	HeaderLastModified    = "Last-Modified"
	HeaderIfModifiedSince = "If-Modified-Since"
)

// IsModified reports whether content last changed at modTime must be sent
// to a client that presented ifModifiedSince. A missing or unparsable
// header counts as modified. HTTP dates have second resolution, so the
// comparison ignores sub-second differences.
func IsModified(modTime time.Time, ifModifiedSince string) bool {
	if ifModifiedSince == "" {
		return true
	}

	since, err := http.ParseTime(ifModifiedSince)
	if err != nil {
		return true
	}

	return since.Unix() < modTime.Unix()
}

// IsRequestModified applies IsModified to the request's If-Modified-Since.
func IsRequestModified(r *http.Request, modTime time.Time) bool {
	return IsModified(modTime, r.Header.Get(HeaderIfModifiedSince))
}

// LastModified formats t as an HTTP date.
func LastModified(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// CacheControl returns the revalidating cache-control value for ttl seconds.
func CacheControl(ttl int) string {
	return fmt.Sprintf("max-age=%d, must-revalidate", ttl)
}

// SetHeaders sets cache-control and last-modified on h.
func SetHeaders(h http.Header, ttl int, modTime time.Time) {
	h.Set(HeaderCacheControl, CacheControl(ttl))
	h.Set(HeaderLastModified, LastModified(modTime))
}
