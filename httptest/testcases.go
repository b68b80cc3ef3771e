// Package httptest runs HTTP test cases described in YAML against an Envoy
// listener whose upstream is the echo server.
package httptest

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"regexp"
	"strings"
	"testing"
	"text/template"
	"time"

	"github.com/getyourguide/extproc-remap/httptest/echo"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

const (
	defaultBaseURL = "http://127.0.0.1:10000"
	endpointEnv    = "EXTPROC_TEST_ENDPOINT"
)

type TestCases []Case

type Case struct {
	Name   string `json:"name"`
	Input  Input  `json:"input"`
	Expect Expect `json:"expect"`

	baseURL string
	retry   Retry
}

type Retry struct {
	MaxAttempts int           // Maximum number of retries
	WaitMin     time.Duration // Minimum time to wait
	WaitMax     time.Duration // Maximum time to wait

	// PostHook specifies a policy for handling retries. It is called
	// following each request with the response and error values returned by
	// the http call. If PostHook returns false, the Client stops retrying
	PostHook func(Actual) bool
}

type Options interface {
	apply(*Case)
}

type optionFunc func(*Case)

func (f optionFunc) apply(v *Case) {
	f(v)
}

func WithRetry(r Retry) Options {
	return optionFunc(func(c *Case) {
		c.retry = r
	})
}

// WithURL sets the Envoy listener requests are sent to.
func WithURL(baseURL string) Options {
	return optionFunc(func(c *Case) {
		c.baseURL = baseURL
	})
}

func (c Case) Run(t *testing.T, opts ...Options) {
	for _, opt := range opts {
		opt.apply(&c)
	}
	t.Run(c.Name, func(t *testing.T) {
		var err error
		for attempt := 0; attempt <= c.retry.MaxAttempts; attempt++ {
			got := httpCall(t, c)
			err = c.Expect.Assert(got)
			if err == nil {
				break
			}
			if c.retry.PostHook != nil && !c.retry.PostHook(got) {
				break
			}
			mult := math.Pow(2, float64(attempt)) * float64(c.retry.WaitMin)
			sleep := time.Duration(mult)
			if float64(sleep) != mult || sleep > c.retry.WaitMax {
				sleep = c.retry.WaitMax
			}
			t.Logf("test %q failed, attempt %d/%d. Retrying in %v", c.Name, attempt, c.retry.MaxAttempts, sleep)
			time.Sleep(sleep)
		}
		require.NoError(t, err)
	})
}

func (cases TestCases) Run(t *testing.T, opts ...Options) {
	for _, tt := range cases {
		tt.Run(t, opts...)
	}
}

// Input is the request sent to Envoy.
type Input struct {
	Method  string  `json:"method"`
	Host    string  `json:"host"`
	Path    string  `json:"path"`
	Headers Headers `json:"headers"`
}

type Headers []HeaderValue

type HeaderValue struct {
	Key   string `json:"name"`
	Value string `json:"value"`
}

// Actual is what a test case observed.
type Actual struct {
	Status          int
	ResponseHeaders http.Header
	// UpstreamHeaders and UpstreamURL describe the request the echo server
	// received. They are empty when the response did not come from it.
	UpstreamHeaders http.Header
	UpstreamURL     string
	Body            string
}

type Expect struct {
	Status          int           `json:"status"`
	UpstreamURL     *StringMatch  `json:"upstreamURL"`
	UpstreamHeaders []HeaderMatch `json:"upstreamHeaders"`
	ResponseHeaders []HeaderMatch `json:"responseHeaders"`
	ResponseBody    *StringMatch  `json:"responseBody"`
}

func (e Expect) Assert(actual Actual) error {
	if e.Status != 0 && e.Status != actual.Status {
		return fmt.Errorf("status should be %d and it is %d", e.Status, actual.Status)
	}
	if e.UpstreamURL != nil && !e.UpstreamURL.Assert(actual.UpstreamURL) {
		return fmt.Errorf("upstream url should match %q=%q and it is %q", e.UpstreamURL.MatchType(), e.UpstreamURL.MatchValue(), actual.UpstreamURL)
	}
	for _, h := range e.UpstreamHeaders {
		if !h.Assert(actual.UpstreamHeaders.Values(h.Name)...) {
			return fmt.Errorf("header match fail: upstream header %q should match %q header values with %q=%q and its values are %q", h.Name, cmp.Or(h.MatchAction, MatchActionFirst), h.MatchType(), h.MatchValue(), actual.UpstreamHeaders.Values(h.Name))
		}
	}
	for _, h := range e.ResponseHeaders {
		if !h.Assert(actual.ResponseHeaders.Values(h.Name)...) {
			return fmt.Errorf("header match fail: response header %q should match %q header values with %q=%q and its values are %q", h.Name, cmp.Or(h.MatchAction, MatchActionFirst), h.MatchType(), h.MatchValue(), actual.ResponseHeaders.Values(h.Name))
		}
	}
	if e.ResponseBody != nil && !e.ResponseBody.Assert(actual.Body) {
		return fmt.Errorf("response body should match %q=%q and its content is \n%q", e.ResponseBody.MatchType(), e.ResponseBody.MatchValue(), actual.Body)
	}
	return nil
}

type MatchAction string

const (
	MatchActionFirst MatchAction = "FIRST"
	MatchActionAny   MatchAction = "ANY"
	MatchActionAll   MatchAction = "ALL"
)

// StringMatch matches one or more values. Exactly one of Exact, Absent and
// Regex is expected to be set.
type StringMatch struct {
	Exact       *string     `json:"exact"`
	Absent      *bool       `json:"absent"`
	Regex       *string     `json:"regex"`
	MatchAction MatchAction `json:"matchAction"`
}

type HeaderMatch struct {
	Name string `json:"name"`
	StringMatch
}

func (sm StringMatch) Assert(values ...string) bool {
	switch sm.MatchAction {
	case "", MatchActionFirst:
		var value string
		if len(values) > 0 {
			value = values[0]
		}
		return sm.match(value)
	case MatchActionAny:
		for _, value := range values {
			if sm.match(value) {
				return true
			}
		}
		return false
	case MatchActionAll:
		if len(values) == 0 {
			return false
		}
		for _, value := range values {
			if !sm.match(value) {
				return false
			}
		}
		return true
	}
	return false
}

func (sm *StringMatch) match(value string) bool {
	switch {
	case sm.Absent != nil:
		if *sm.Absent {
			return value == ""
		}
		return value != ""
	case sm.Exact != nil:
		return value == *sm.Exact
	case sm.Regex != nil:
		r := regexp.MustCompile(*sm.Regex)
		return r.MatchString(value)
	}
	return false
}

func (sm *StringMatch) MatchType() string {
	switch {
	case sm.Exact != nil:
		return "exact"
	case sm.Absent != nil:
		return "absent"
	case sm.Regex != nil:
		return "regex"
	}
	return ""
}

func (sm *StringMatch) MatchValue() string {
	switch {
	case sm.Exact != nil:
		return *sm.Exact
	case sm.Absent != nil:
		return fmt.Sprintf("%t", *sm.Absent)
	case sm.Regex != nil:
		return *sm.Regex
	}
	return ""
}

func httpCall(t *testing.T, tt Case) Actual {
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	defer httpClient.CloseIdleConnections()

	baseURL := cmp.Or(tt.baseURL, os.Getenv(endpointEnv), defaultBaseURL)
	req, err := http.NewRequest(cmp.Or(tt.Input.Method, http.MethodGet), baseURL+cmp.Or(tt.Input.Path, "/"), nil)
	require.NoError(t, err)
	if tt.Input.Host != "" {
		req.Host = tt.Input.Host
	}
	for _, header := range tt.Input.Headers {
		if strings.EqualFold(header.Key, "host") {
			req.Host = header.Value
			continue
		}
		req.Header.Add(header.Key, header.Value)
	}

	res, err := httpClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	actual := Actual{
		Status:          res.StatusCode,
		ResponseHeaders: res.Header,
		UpstreamHeaders: http.Header{},
		Body:            string(body),
	}
	var upstream echo.RequestHeaderResponse
	if strings.HasPrefix(res.Header.Get("content-type"), "application/json") && json.Unmarshal(body, &upstream) == nil {
		for k, v := range upstream.Headers {
			actual.UpstreamHeaders.Add(k, v)
		}
		actual.UpstreamURL = upstream.URL
	}
	return actual
}

// Load reads the test cases of a YAML file, documents separated by "---".
// Integration tests are skipped in short mode.
func Load(t *testing.T, path string) TestCases {
	if testing.Short() {
		t.Skip("integration test")
	}
	return testData(t, nil, path)
}

// LoadTemplate is Load for files that are text/template templates rendered with templateData.
func LoadTemplate(t *testing.T, path string, templateData any) TestCases {
	if testing.Short() {
		t.Skip("integration test")
	}
	return testData(t, templateData, path)
}

func testData(t *testing.T, templateData any, files ...string) TestCases {
	var configs TestCases
	for _, fileName := range files {
		if !strings.Contains(fileName, "testdata/") {
			fileName = fmt.Sprintf("testdata/%s", fileName)
		}
		configs = append(configs, Parse(t, fileName, templateData)...)
	}
	return configs
}

// Parse renders fileName with templateData and decodes its documents.
func Parse(t *testing.T, fileName string, templateData any) TestCases {
	tmpl, err := template.ParseFiles(fileName)
	require.NoError(t, err)
	b := bytes.NewBuffer([]byte{})
	require.NoError(t, tmpl.Execute(b, templateData))

	var cases TestCases
	for _, doc := range bytes.Split(b.Bytes(), []byte("\n---")) {
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}
		var testcase Case
		require.NoError(t, yaml.UnmarshalStrict(doc, &testcase))
		cases = append(cases, testcase)
	}
	return cases
}
