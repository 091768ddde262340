package server

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/modserve/internal/errors"
)

func TestDefaultErrorHandler_JSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	resp := DefaultErrorHandler(req, errors.NotFound("/srv/x"))

	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":10404,"message":"file not found","detail":"failed to stat file: /srv/x"}`, string(body))
}

func TestDefaultErrorHandler_HTML(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp := DefaultErrorHandler(req, errors.New("bad request body", 12345, http.StatusBadRequest, "line 1\n<script>"))
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	page := string(body)
	assert.Contains(t, page, "<h1>Bad Request Body</h1>")
	assert.Contains(t, page, "Error 12345")
	assert.Contains(t, page, "&lt;script&gt;")
	assert.NotContains(t, page, "<script>")
}

func TestDefaultErrorHandler_PrefersJSONWhenListedFirst(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Accept", "application/json, text/html")

	resp := DefaultErrorHandler(req, fmt.Errorf("boom"))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
}

func TestNotFoundStage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/missing.js", nil)
	result := NotFoundStage(nil).Serve(&url.URL{Path: "/missing.js"}, req)

	require.True(t, result.Handled())
	assert.Equal(t, http.StatusNotFound, result.Response().Status)
}
