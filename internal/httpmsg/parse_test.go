package httpmsg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindHeaderEnd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		buf   string
		want  int
		found bool
	}{
		{name: "terminated", buf: "GET / HTTP/1.1\r\n\r\nbody", want: 14, found: true},
		{name: "no terminator", buf: "GET / HTTP/1.1\r\nHost: a\r\n", want: 25, found: false},
		{name: "empty", buf: "", want: 0, found: false},
		{name: "shorter than terminator", buf: "\r\n", want: 2, found: false},
		{name: "first of several", buf: "a\r\n\r\nb\r\n\r\n", want: 1, found: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := FindHeaderEnd([]byte(tt.buf))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.found, found)
		})
	}
}

func TestParseRequestGet(t *testing.T) {
	t.Parallel()

	raw := "GET /a HTTP/1.1\r\nHost: example.com\r\n\r\n"
	req, err := ParseRequest([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, MethodGet, req.Method())
	assert.Equal(t, "/a", req.URL())
	assert.Equal(t, "example.com", req.Host())
	assert.Equal(t, uint16(80), req.Port())
	assert.Equal(t, int64(0), req.ContentLength())
	assert.Equal(t, "GET /a HTTP/1.1", req.FirstLine())
	assert.Equal(t, raw, string(req.Head()))
	assert.Equal(t, Unspecified, req.MaxAge())
	assert.Equal(t, Unspecified, req.MaxStale())
	assert.Equal(t, Unspecified, req.MinFresh())
	assert.False(t, req.NoCache())
	assert.False(t, req.NoStore())
	assert.False(t, req.OnlyIfCached())
}

func TestParseRequestStripsLeadingNULs(t *testing.T) {
	t.Parallel()

	req, err := ParseRequest([]byte("\x00\x00GET /a HTTP/1.1\r\nHost: example.com:8080\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, MethodGet, req.Method())
	assert.Equal(t, uint16(8080), req.Port())
}

func TestParseRequestPost(t *testing.T) {
	t.Parallel()

	req, err := ParseRequest([]byte("POST /form HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nhello"))
	require.NoError(t, err)
	assert.Equal(t, MethodPost, req.Method())
	assert.Equal(t, int64(5), req.ContentLength())
	assert.NotContains(t, string(req.Head()), "hello")

	_, err = ParseRequest([]byte("POST /form HTTP/1.1\r\nHost: h\r\nContent-Length: five\r\n\r\nhello"))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestParseRequestConnectForcesPort443(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"CONNECT example.com:8443 HTTP/1.1\r\nHost: example.com:8443\r\n\r\n",
		"CONNECT example.com:80 HTTP/1.1\r\nHost: example.com\r\n\r\n",
	} {
		req, err := ParseRequest([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, MethodConnect, req.Method())
		assert.Equal(t, "example.com", req.Host())
		assert.Equal(t, uint16(443), req.Port())
	}
}

func TestParseRequestCacheControl(t *testing.T) {
	t.Parallel()

	req, err := ParseRequest([]byte("GET / HTTP/1.1\r\nHost: h\r\nCache-Control: Max-Age=0, max-stale=30, No-Cache, only-if-cached\r\n\r\n"))
	require.NoError(t, err)

	assert.Equal(t, 0, req.MaxAge())
	assert.Equal(t, 30, req.MaxStale())
	assert.Equal(t, Unspecified, req.MinFresh())
	assert.True(t, req.NoCache())
	assert.False(t, req.NoStore())
	assert.True(t, req.OnlyIfCached())
}

func TestParseRequestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "unsupported method", raw: "PUT / HTTP/1.1\r\nHost: h\r\n\r\n"},
		{name: "method not at start", raw: "XGET / HTTP/1.1\r\nHost: h\r\n\r\n"},
		{name: "lower-case method", raw: "get / HTTP/1.1\r\nHost: h\r\n\r\n"},
		{name: "empty", raw: ""},
		{name: "missing url", raw: "GET  HTTP/1.1\r\nHost: h\r\n\r\n"},
		{name: "missing host", raw: "GET / HTTP/1.1\r\nAccept: */*\r\n\r\n"},
		{name: "bad port", raw: "GET / HTTP/1.1\r\nHost: h:99999\r\n\r\n"},
		{name: "empty bracketed host", raw: "GET / HTTP/1.1\r\nHost: []\r\n\r\n"},
		{name: "empty bracketed host with port", raw: "GET / HTTP/1.1\r\nHost: []:8080\r\n\r\n"},
		{name: "post without length", raw: "POST / HTTP/1.1\r\nHost: h\r\n\r\n"},
		{name: "negative length", raw: "POST / HTTP/1.1\r\nHost: h\r\nContent-Length: -1\r\n\r\n"},
		{name: "get with body length", raw: "GET / HTTP/1.1\r\nHost: h\r\nContent-Length: 3\r\n\r\nabc"},
		{name: "get with junk length", raw: "GET / HTTP/1.1\r\nHost: h\r\nContent-Length: x\r\n\r\n"},
		{name: "connect with body length", raw: "CONNECT h:443 HTTP/1.1\r\nHost: h\r\nContent-Length: 1\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tt.raw))
			require.Error(t, err)
			assert.Nil(t, req)

			var pe *ParseError
			assert.True(t, errors.As(err, &pe), "want *ParseError, got %T", err)
		})
	}
}

func TestParseRequestZeroLengthGet(t *testing.T) {
	t.Parallel()

	req, err := ParseRequest([]byte("GET / HTTP/1.1\r\nHost: h\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), req.ContentLength())
}

func TestHostAndPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		head     string
		wantHost string
		wantPort uint16
	}{
		{head: "GET / HTTP/1.1\r\nHost: a.example\r\n\r\n", wantHost: "a.example", wantPort: 80},
		{head: "GET / HTTP/1.1\r\nHost: a.example:8080\r\n\r\n", wantHost: "a.example", wantPort: 8080},
		{head: "GET / HTTP/1.1\r\nHost: [::1]:8080\r\n\r\n", wantHost: "::1", wantPort: 8080},
		{head: "GET / HTTP/1.1\r\nHost: [::1]\r\n\r\n", wantHost: "::1", wantPort: 80},
		{head: "GET / HTTP/1.1\r\nHost: a.example\r\nX-Host: b\r\n\r\n", wantHost: "a.example", wantPort: 80},
	}

	for _, tt := range tests {
		t.Run(tt.wantHost, func(t *testing.T) {
			host, port, err := HostAndPort(tt.head)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	raw := "HTTP/1.1 200 OK\r\n" +
		"Date: Wed, 21 Oct 2015 07:28:00 GMT\r\n" +
		"Cache-Control: public, max-age=100\r\n" +
		"ETag: \"abc\"\r\n" +
		"Age: 3\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"\r\n" +
		"5\r\nhello\r\n0\r\n\r\n"

	resp, err := ParseResponse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "HTTP/1.1 200 OK", resp.FirstLine())
	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "Wed, 21 Oct 2015 07:28:00 GMT", resp.Date())

	etag, ok := resp.ETag()
	assert.True(t, ok)
	assert.Equal(t, `"abc"`, etag)

	age, ok := resp.Age()
	assert.True(t, ok)
	assert.Equal(t, "3", age)

	te, ok := resp.TransferEncoding()
	assert.True(t, ok)
	assert.Equal(t, "chunked", te)

	_, ok = resp.Expires()
	assert.False(t, ok)
	_, ok = resp.LastModified()
	assert.False(t, ok)

	maxAge, ok := resp.MaxAge()
	assert.True(t, ok)
	assert.Equal(t, "100", maxAge)
	_, ok = resp.SMaxAge()
	assert.False(t, ok)

	assert.NotContains(t, string(resp.Head()), "hello")
}

func TestParseResponseFirstOccurrenceWins(t *testing.T) {
	t.Parallel()

	resp, err := ParseResponse([]byte("HTTP/1.1 200 OK\r\nDate: one\r\nDate: two\r\nEtag: \"legacy\"\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "one", resp.Date())

	etag, ok := resp.ETag()
	assert.True(t, ok)
	assert.Equal(t, `"legacy"`, etag)
}

func TestParseResponseRequiresDate(t *testing.T) {
	t.Parallel()

	_, err := ParseResponse([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, "Date")
}

func TestResponseDirectives(t *testing.T) {
	t.Parallel()

	resp, err := ParseResponse([]byte("HTTP/1.1 200 OK\r\nDate: D\r\nCache-Control: Private, No-Cache, must-revalidate, s-maxage=7 , max-age=3\r\n\r\n"))
	require.NoError(t, err)

	assert.True(t, resp.Private())
	assert.True(t, resp.NoCache())
	assert.True(t, resp.MustRevalidate())
	assert.False(t, resp.NoStore())

	smax, ok := resp.SMaxAge()
	assert.True(t, ok)
	assert.Equal(t, "7", smax)

	maxAge, ok := resp.MaxAge()
	assert.True(t, ok)
	assert.Equal(t, "3", maxAge)
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	for line, want := range map[string]int{
		"HTTP/1.1 304 Not Modified": 304,
		"HTTP/1.1 200":              200,
		"HTTP/1.1":                  0,
		"HTTP/1.1 abc OK":           0,
	} {
		resp, err := ParseResponse([]byte(line + "\r\nDate: D\r\n\r\n"))
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode(), line)
	}
}
