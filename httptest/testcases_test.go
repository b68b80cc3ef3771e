package httptest_test

import (
	"net/http"
	"testing"

	"github.com/getyourguide/extproc-remap/httptest"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func TestParse(t *testing.T) {
	templateData := struct {
		HeaderName  string
		HeaderValue string
	}{
		HeaderName:  "x-custom-header",
		HeaderValue: "value-1",
	}
	cases := httptest.Parse(t, "testdata/cases.yml", templateData)
	require.Len(t, cases, 2)

	require.Equal(t, "remapped to origin", cases[0].Name)
	require.Equal(t, "www.example.com", cases[0].Input.Host)
	require.Equal(t, "x-custom-header", cases[0].Input.Headers[0].Key)
	require.Equal(t, "http://origin.example.com/a/b", *cases[0].Expect.UpstreamURL.Exact)
	require.Equal(t, "value-1", *cases[0].Expect.UpstreamHeaders[0].Exact)

	require.Equal(t, http.StatusInternalServerError, cases[1].Expect.Status)
	require.Equal(t, "x-remap-plugin", cases[1].Expect.ResponseHeaders[0].Name)
}

func TestStringMatch(t *testing.T) {
	for _, tt := range []struct {
		name   string
		match  httptest.StringMatch
		values []string
		want   bool
	}{
		{name: "exact first", match: httptest.StringMatch{Exact: ptr("a")}, values: []string{"a", "b"}, want: true},
		{name: "exact first mismatch", match: httptest.StringMatch{Exact: ptr("b")}, values: []string{"a", "b"}, want: false},
		{name: "any", match: httptest.StringMatch{Exact: ptr("b"), MatchAction: httptest.MatchActionAny}, values: []string{"a", "b"}, want: true},
		{name: "all", match: httptest.StringMatch{Regex: ptr("^[ab]$"), MatchAction: httptest.MatchActionAll}, values: []string{"a", "b"}, want: true},
		{name: "all without values", match: httptest.StringMatch{Regex: ptr(".*"), MatchAction: httptest.MatchActionAll}, want: false},
		{name: "absent", match: httptest.StringMatch{Absent: ptr(true)}, want: true},
		{name: "present", match: httptest.StringMatch{Absent: ptr(false)}, values: []string{"x"}, want: true},
		{name: "nothing to match", match: httptest.StringMatch{}, values: []string{"x"}, want: false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.match.Assert(tt.values...))
		})
	}
}

func TestExpectAssert(t *testing.T) {
	actual := httptest.Actual{
		Status:          http.StatusOK,
		ResponseHeaders: http.Header{"Content-Type": []string{"application/json"}},
		UpstreamHeaders: http.Header{"Host": []string{"origin.example.com"}},
		UpstreamURL:     "http://origin.example.com/a",
		Body:            `{"ok":true}`,
	}

	require.NoError(t, httptest.Expect{
		Status:      http.StatusOK,
		UpstreamURL: &httptest.StringMatch{Exact: ptr("http://origin.example.com/a")},
		UpstreamHeaders: []httptest.HeaderMatch{
			{Name: "host", StringMatch: httptest.StringMatch{Exact: ptr("origin.example.com")}},
		},
		ResponseBody: &httptest.StringMatch{Regex: ptr(`"ok"`)},
	}.Assert(actual))

	require.ErrorContains(t, httptest.Expect{Status: http.StatusNotFound}.Assert(actual), "status should be 404")
	require.ErrorContains(t, httptest.Expect{
		ResponseHeaders: []httptest.HeaderMatch{
			{Name: "x-missing", StringMatch: httptest.StringMatch{Absent: ptr(false)}},
		},
	}.Assert(actual), `response header "x-missing"`)
}
