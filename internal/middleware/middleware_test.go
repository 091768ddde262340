package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/modserve/internal/logging"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	chain := NewChain(mark("outer"), nil, mark("inner"))
	assert.Equal(t, 2, chain.Len())

	handler := chain.Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

type recorded struct {
	method string
	status int
}

type fakeRecorder struct{ got []recorded }

func (f *fakeRecorder) RecordRequest(method string, status int, _ time.Duration) {
	f.got = append(f.got, recorded{method, status})
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelInfo, Format: "json", Output: &buf})
	rec := &fakeRecorder{}

	var seen string
	handler := RequestLogger(logger, rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	_, err := ulid.ParseStrict(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, w.Header().Get(HeaderRequestID))
	assert.Equal(t, []recorded{{http.MethodGet, http.StatusTeapot}}, rec.got)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, seen, entry["request_id"])
	assert.Equal(t, "/x", entry["path"])
}

func TestRequestLogger_KeepsValidIncomingID(t *testing.T) {
	id := ulid.Make().String()
	handler := RequestLogger(logging.Nop(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, id, RequestIDFromContext(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, id)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	req.Header.Set(HeaderRequestID, "not-a-ulid")
	w := httptest.NewRecorder()
	RequestLogger(logging.Nop(), nil)(http.NotFoundHandler()).ServeHTTP(w, req)
	assert.NotEqual(t, "not-a-ulid", w.Header().Get(HeaderRequestID))
}

func TestStatusRecorder_Flush(t *testing.T) {
	w := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: w}

	rec.Flush()
	assert.True(t, w.Flushed)
	assert.Equal(t, http.StatusOK, rec.Status())

	_, err := rec.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.written)

	_, _, err = rec.Hijack()
	assert.Error(t, err)
}

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	t.Run("allowed origin is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://app.local")
		w := httptest.NewRecorder()
		CORS("production", []string{"http://app.local"})(ok).ServeHTTP(w, req)
		assert.Equal(t, "http://app.local", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard only in development", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://other.local")

		w := httptest.NewRecorder()
		CORS("development", nil)(ok).ServeHTTP(w, req)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

		w = httptest.NewRecorder()
		CORS("production", nil)(ok).ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight short circuits", func(t *testing.T) {
		called := false
		w := httptest.NewRecorder()
		CORS("development", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
			ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.False(t, called)
	})
}

func TestRateLimit(t *testing.T) {
	registry := NewRateLimiterRegistry()
	limited := 0
	handler := RateLimit(registry, 1, func() { limited++ })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	// burst of two, then rejected
	assert.Equal(t, []int{200, 200, 429, 429}, codes)
	assert.Equal(t, 2, limited)

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, other)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, registry.Len())

	var body map[string]interface{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req.WithContext(context.Background()))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(10429), body["code"])
}

func TestRateLimiterRegistry_KeepsLimitersPerClient(t *testing.T) {
	registry := NewRateLimiterRegistry()

	first := registry.GetOrCreate("10.0.0.1", 5)
	assert.Same(t, first, registry.GetOrCreate("10.0.0.1", 5))

	for i := 2; i <= 50; i++ {
		registry.GetOrCreate(fmt.Sprintf("10.0.0.%d", i), 5)
	}
	assert.Equal(t, 50, registry.Len())
	assert.Same(t, first, registry.GetOrCreate("10.0.0.1", 5))
}

func TestNewDefaultChain(t *testing.T) {
	assert.Equal(t, 2, NewDefaultChain(Dependencies{}).Len())
	assert.Equal(t, 3, NewDefaultChain(Dependencies{RateLimit: 5}).Len())
}
