package echo_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getyourguide/extproc-remap/httptest/echo"
	"github.com/stretchr/testify/require"
)

func TestRequestHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://origin.example.com/a/b?q=1", nil)
	req.Header.Set("X-Test-Header", "test-value")
	rr := httptest.NewRecorder()

	echo.RequestHeaders(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("content-type"))

	var resp echo.RequestHeaderResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))

	expectedHeaders := map[string]string{
		"X-Test-Header": "test-value",
		"Host":          "origin.example.com",
		"Method":        http.MethodGet,
		"Path":          "/a/b?q=1",
	}
	for key, expectedValue := range expectedHeaders {
		require.Equal(t, expectedValue, resp.Headers[key], "mismatch for header %s", key)
	}
	require.Equal(t, "http://origin.example.com/a/b?q=1", resp.URL)
}

func TestResponseHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com?status=201&X-Test-Response=test-value", nil)
	rr := httptest.NewRecorder()

	echo.ResponseHeaders(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "test-value", rr.Header().Get("X-Test-Response"))

	var resp echo.ResponseHeaderResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, "test-value", resp["X-Test-Response"])
	require.NotContains(t, resp, "status")
}

func TestResponseHeadersInvalidStatus(t *testing.T) {
	for _, status := range []string{"invalid", "42"} {
		req := httptest.NewRequest(http.MethodGet, "http://example.com?status="+status, nil)
		rr := httptest.NewRecorder()

		echo.ResponseHeaders(rr, req)

		require.Equal(t, http.StatusBadRequest, rr.Code, status)

		var resp echo.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.Contains(t, resp.Error, status)
	}
}
