package httpmsg

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Method is one of the request methods the proxy understands.
type Method int

const (
	MethodGet Method = iota + 1
	MethodPost
	MethodConnect
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodConnect:
		return "CONNECT"
	default:
		return "Method(" + strconv.Itoa(int(m)) + ")"
	}
}

// Unspecified marks a numeric Cache-Control directive that was not present.
// It is distinct from an explicit zero.
const Unspecified = -1

// Request describes one parsed client request. It is immutable once built.
type Request struct {
	method        Method
	url           string
	contentLength int64
	host          string
	port          uint16
	firstLine     string

	maxAge   int
	maxStale int
	minFresh int

	noCache      bool
	noStore      bool
	onlyIfCached bool

	head []byte
}

func (r *Request) Method() Method { return r.method }

// URL returns the request target exactly as it appeared on the request line.
func (r *Request) URL() string { return r.url }

func (r *Request) ContentLength() int64 { return r.contentLength }

func (r *Request) Host() string { return r.host }

// Port is the destination port. CONNECT requests always report 443.
func (r *Request) Port() uint16 { return r.port }

// FirstLine returns the request line without its CRLF. It is the cache key.
func (r *Request) FirstLine() string { return r.firstLine }

// MaxAge, MaxStale and MinFresh return the request's Cache-Control values in
// seconds, or Unspecified.
func (r *Request) MaxAge() int   { return r.maxAge }
func (r *Request) MaxStale() int { return r.maxStale }
func (r *Request) MinFresh() int { return r.minFresh }

func (r *Request) NoCache() bool      { return r.noCache }
func (r *Request) NoStore() bool      { return r.noStore }
func (r *Request) OnlyIfCached() bool { return r.onlyIfCached }

// Head returns a copy of the raw header block, including the blank line that
// terminates it when one was present.
func (r *Request) Head() []byte { return bytes.Clone(r.head) }

func (r *Request) String() string {
	return fmt.Sprintf("Method: %s, URL: %s, Content-Length: %d, Host: %s, Port: %d",
		r.method, r.url, r.contentLength, r.host, r.port)
}

// Response describes one parsed upstream response head. It is immutable once
// built. Optional fields report their presence separately from their value.
type Response struct {
	head      []byte
	firstLine string
	date      string

	expires          optional
	lastModified     optional
	etag             optional
	age              optional
	cacheControl     optional
	transferEncoding optional
}

type optional struct {
	value   string
	present bool
}

func (o optional) get() (string, bool) { return o.value, o.present }

func (r *Response) Head() []byte { return bytes.Clone(r.head) }

// FirstLine returns the status line without its CRLF.
func (r *Response) FirstLine() string { return r.firstLine }

// Date returns the raw Date header value. Every parsed response has one.
func (r *Response) Date() string { return r.date }

func (r *Response) Expires() (string, bool)          { return r.expires.get() }
func (r *Response) LastModified() (string, bool)     { return r.lastModified.get() }
func (r *Response) ETag() (string, bool)             { return r.etag.get() }
func (r *Response) Age() (string, bool)              { return r.age.get() }
func (r *Response) CacheControl() (string, bool)     { return r.cacheControl.get() }
func (r *Response) TransferEncoding() (string, bool) { return r.transferEncoding.get() }

// StatusCode returns the numeric status from the status line, or 0 when the
// status line has no parseable code.
func (r *Response) StatusCode() int {
	_, rest, ok := strings.Cut(r.firstLine, " ")
	if !ok {
		return 0
	}
	code, _, _ := strings.Cut(rest, " ")
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return n
}

// HasDirective reports whether the Cache-Control value contains directive.
// Matching is a substring test on the lower-cased value.
func (r *Response) HasDirective(directive string) bool {
	cc, ok := r.cacheControl.get()
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(cc), directive)
}

func (r *Response) NoCache() bool        { return r.HasDirective("no-cache") }
func (r *Response) NoStore() bool        { return r.HasDirective("no-store") }
func (r *Response) Private() bool        { return r.HasDirective("private") }
func (r *Response) MustRevalidate() bool { return r.HasDirective("must-revalidate") }

// MaxAge returns the raw max-age argument, up to the next comma.
func (r *Response) MaxAge() (string, bool) { return r.directiveArg("max-age=") }

// SMaxAge returns the raw s-maxage argument, up to the next comma.
func (r *Response) SMaxAge() (string, bool) { return r.directiveArg("s-maxage=") }

func (r *Response) directiveArg(label string) (string, bool) {
	cc, ok := r.cacheControl.get()
	if !ok {
		return "", false
	}
	lower := strings.ToLower(cc)
	i := strings.Index(lower, label)
	if i < 0 {
		return "", false
	}
	arg := lower[i+len(label):]
	if j := strings.IndexByte(arg, ','); j >= 0 {
		arg = arg[:j]
	}
	return strings.TrimSpace(arg), true
}
