package filters_test

import (
	"context"
	"testing"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extproc "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/getyourguide/extproc-remap/config"
	"github.com/getyourguide/extproc-remap/filter"
	"github.com/getyourguide/extproc-remap/filters"
	"github.com/getyourguide/extproc-remap/host"
	"github.com/getyourguide/extproc-remap/plugins/observer"
	"github.com/getyourguide/extproc-remap/remap/remaptest"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/require"
)

func TestAccessLog(t *testing.T) {
	var lines []string
	log := funcr.New(func(prefix, args string) {
		lines = append(lines, args)
	}, funcr.Options{Verbosity: 1})
	f := filters.NewAccessLog(log)

	t.Run("stream without messages", func(t *testing.T) {
		lines = nil
		f.OnStreamComplete(filter.NewRequestContext())
		require.Empty(t, lines)
	})

	t.Run("completed exchange", func(t *testing.T) {
		lines = nil
		req := filter.NewRequestContext()
		req.Process(&extproc.ProcessingRequest_RequestHeaders{RequestHeaders: &extproc.HttpHeaders{
			Headers: &corev3.HeaderMap{Headers: []*corev3.HeaderValue{
				{Key: ":method", RawValue: []byte("GET")},
				{Key: ":authority", RawValue: []byte("origin.example.com")},
				{Key: ":path", RawValue: []byte("/a?b=1")},
				{Key: "x-request-id", RawValue: []byte("abc")},
			}},
		}})
		req.Process(&extproc.ProcessingRequest_ResponseHeaders{ResponseHeaders: &extproc.HttpHeaders{
			Headers: &corev3.HeaderMap{Headers: []*corev3.HeaderValue{
				{Key: ":status", RawValue: []byte("201")},
			}},
		}})
		f.OnStreamComplete(req)

		require.Len(t, lines, 1)
		require.Contains(t, lines[0], `"msg"="request completed"`)
		require.Contains(t, lines[0], `"request_id"="abc"`)
		require.Contains(t, lines[0], `"authority"="origin.example.com"`)
		require.Contains(t, lines[0], `"path"="/a?b=1"`)
		require.Contains(t, lines[0], `"status"=201`)
		require.Contains(t, lines[0], `"status_class"="2xx"`)
		require.NotContains(t, lines[0], "remap_from")
	})

	t.Run("remapped exchange", func(t *testing.T) {
		lines = nil
		cfg := &config.Config{Rules: []config.Rule{{
			From:    "http://www.example.com",
			To:      "http://origin.example.com",
			Plugins: []config.Plugin{{Name: observer.Name}},
		}}}
		remapper, err := host.Load(cfg, remaptest.NewHost("9.2.0"))
		require.NoError(t, err)
		defer remapper.Close()

		req := filter.NewRequestContext()
		req.Process(&extproc.ProcessingRequest_RequestHeaders{RequestHeaders: &extproc.HttpHeaders{
			Headers: &corev3.HeaderMap{Headers: []*corev3.HeaderValue{
				{Key: ":scheme", RawValue: []byte("http")},
				{Key: ":method", RawValue: []byte("GET")},
				{Key: ":authority", RawValue: []byte("www.example.com")},
				{Key: ":path", RawValue: []byte("/a")},
			}},
		}})
		ir, err := remapper.RequestHeaders(context.Background(), filter.NewCommonResponseWriter(req.RequestHeaders), req)
		require.NoError(t, err)
		require.Nil(t, ir)
		f.OnStreamComplete(req)

		require.Len(t, lines, 1)
		require.Contains(t, lines[0], `"authority"="origin.example.com"`)
		require.Contains(t, lines[0], `"remap_from"="http://www.example.com"`)
		require.Contains(t, lines[0], `"remap_plugin"="remap_observer"`)
		require.Contains(t, lines[0], `"remap_status"="no_remap"`)
		require.NotContains(t, lines[0], "status_class")
	})

	t.Run("disabled below verbosity 1", func(t *testing.T) {
		lines = nil
		quiet := filters.NewAccessLog(funcr.New(func(prefix, args string) {
			lines = append(lines, args)
		}, funcr.Options{}))
		req := filter.NewRequestContext()
		req.Process(&extproc.ProcessingRequest_RequestHeaders{RequestHeaders: &extproc.HttpHeaders{}})
		quiet.OnStreamComplete(req)
		require.Empty(t, lines)
	})
}
