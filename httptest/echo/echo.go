// Package echo serves the upstream used by integration tests. It answers
// with the request it received, so tests can tell how Envoy and the remap
// filter rewrote it.
package echo

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type RequestHeaderResponse struct {
	Headers map[string]string `json:"headers"`
	// URL is the request as the upstream received it: scheme, host and request URI.
	URL string `json:"url"`
}

// RequestHeaders writes the request headers in the payload
func RequestHeaders(w http.ResponseWriter, request *http.Request) {
	resp := RequestHeaderResponse{
		Headers: make(map[string]string),
	}
	for headerName := range request.Header {
		resp.Headers[headerName] = request.Header.Get(headerName)
	}

	resp.Headers["Host"] = request.Host
	resp.Headers["Method"] = request.Method
	resp.Headers["Path"] = request.URL.RequestURI()

	scheme := "http"
	if request.TLS != nil {
		scheme = "https"
	}
	resp.URL = scheme + "://" + request.Host + request.URL.RequestURI()

	respond(w, http.StatusOK, resp)
}

type ResponseHeaderResponse map[string]string

// ResponseHeaders writes response headers from query parameters. The status
// parameter sets the response status.
func ResponseHeaders(w http.ResponseWriter, request *http.Request) {
	statusCode := http.StatusOK
	resp := make(ResponseHeaderResponse)
	for k, v := range request.URL.Query() {
		if len(v) == 0 {
			continue
		}
		if k == "status" {
			code, err := strconv.Atoi(v[0])
			if err != nil || code < 100 || code > 999 {
				msg := "invalid status " + strconv.Quote(v[0])
				respond(w, http.StatusBadRequest, ErrorResponse{Error: msg})
				return
			}
			statusCode = code
			continue
		}
		for _, value := range v {
			w.Header().Add(k, value)
		}
		resp[k] = v[0]
	}
	respond(w, statusCode, resp)
}

func respond(w http.ResponseWriter, statusCode int, v any) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(raw) // nolint:errcheck
}
