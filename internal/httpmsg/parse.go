package httpmsg

import (
	"bytes"
	"net"
	"strconv"
	"strings"
)

var headerTerminator = []byte("\r\n\r\n")

// FindHeaderEnd returns the offset of the first CRLFCRLF in buf. When there is
// none it returns len(buf) and false, and callers treat the whole buffer as
// the header region.
func FindHeaderEnd(buf []byte) (int, bool) {
	i := bytes.Index(buf, headerTerminator)
	if i < 0 {
		return len(buf), false
	}
	return i, true
}

// headerBlock strips leading NUL padding and returns the header region,
// including its terminating blank line when one exists.
func headerBlock(buf []byte) []byte {
	buf = bytes.TrimLeft(buf, "\x00")
	end, ok := FindHeaderEnd(buf)
	if ok {
		end += len(headerTerminator)
	}
	return bytes.Clone(buf[:end])
}

// ParseRequest builds a Request from a raw client message. Any structural
// problem yields a *ParseError and no Request.
func ParseRequest(buf []byte) (*Request, error) {
	head := headerBlock(buf)
	text := string(head)

	method, err := RequestMethod(text)
	if err != nil {
		return nil, err
	}
	url, err := RequestURL(text)
	if err != nil {
		return nil, err
	}
	contentLength, err := ContentLength(text, method)
	if err != nil {
		return nil, err
	}
	host, port, err := HostAndPort(text)
	if err != nil {
		return nil, err
	}
	if method == MethodConnect {
		port = 443
	}

	req := &Request{
		method:        method,
		url:           url,
		contentLength: contentLength,
		host:          host,
		port:          port,
		firstLine:     FirstLine(text),
		maxAge:        Unspecified,
		maxStale:      Unspecified,
		minFresh:      Unspecified,
		head:          head,
	}

	if cc, ok := HeaderValue(text, "Cache-Control"); ok {
		cc = strings.ToLower(cc)
		req.maxAge = directiveSeconds(cc, "max-age=")
		req.maxStale = directiveSeconds(cc, "max-stale=")
		req.minFresh = directiveSeconds(cc, "min-fresh=")
		req.noCache = strings.Contains(cc, "no-cache")
		req.noStore = strings.Contains(cc, "no-store")
		req.onlyIfCached = strings.Contains(cc, "only-if-cached")
	}

	return req, nil
}

// ParseResponse builds a Response from a raw upstream message. A missing Date
// header is a parse failure; every other field is optional.
func ParseResponse(buf []byte) (*Response, error) {
	head := headerBlock(buf)
	text := string(head)

	date, ok := HeaderValue(text, "Date")
	if !ok {
		return nil, parseErrorf("missing Date header")
	}

	resp := &Response{
		head:      head,
		firstLine: FirstLine(text),
		date:      date,
	}
	resp.expires = field(text, "Expires")
	resp.lastModified = field(text, "Last-Modified")
	resp.etag = field(text, "ETag")
	if !resp.etag.present {
		resp.etag = field(text, "Etag")
	}
	resp.age = field(text, "Age")
	resp.cacheControl = field(text, "Cache-Control")
	resp.transferEncoding = field(text, "Transfer-Encoding")

	return resp, nil
}

// FirstLine returns the text before the first CRLF.
func FirstLine(head string) string {
	line, _, _ := strings.Cut(head, "\r\n")
	return line
}

// RequestMethod reads the method token at the very start of head. Only GET,
// POST and CONNECT are accepted.
func RequestMethod(head string) (Method, error) {
	token, _, ok := strings.Cut(FirstLine(head), " ")
	if !ok {
		return 0, parseErrorf("none or not supported http method specified")
	}
	switch token {
	case "GET":
		return MethodGet, nil
	case "POST":
		return MethodPost, nil
	case "CONNECT":
		return MethodConnect, nil
	default:
		return 0, parseErrorf("none or not supported http method specified: %q", token)
	}
}

// RequestURL returns the request target: the non-empty token between the
// method and the protocol version.
func RequestURL(head string) (string, error) {
	parts := strings.Split(FirstLine(head), " ")
	if len(parts) != 3 || parts[1] == "" {
		return "", parseErrorf("no url path in request")
	}
	return parts[1], nil
}

// ContentLength validates the Content-Length header against method. POST
// requires a non-negative integer; GET and CONNECT allow only absence or 0.
func ContentLength(head string, method Method) (int64, error) {
	v, ok := HeaderValue(head, "Content-Length")
	if !ok {
		if method == MethodPost {
			return 0, parseErrorf("invalid content length: missing")
		}
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, parseErrorf("invalid content length: %q", v)
	}
	if method != MethodPost && n != 0 {
		return 0, parseErrorf("invalid content length for %s: %d", method, n)
	}
	return n, nil
}

// HostAndPort reads the Host header. The port defaults to 80.
func HostAndPort(head string) (string, uint16, error) {
	v, ok := HeaderValue(head, "Host")
	if !ok {
		return "", 0, parseErrorf("missing host information")
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", 0, parseErrorf("invalid host format: empty")
	}

	var host, port string
	if strings.HasPrefix(v, "[") {
		h, p, err := net.SplitHostPort(v)
		if err != nil {
			if !strings.HasSuffix(v, "]") {
				return "", 0, parseErrorf("invalid host format: %q", v)
			}
			h = strings.Trim(v, "[]")
		}
		if h == "" {
			return "", 0, parseErrorf("invalid host format: %q", v)
		}
		host, port = h, p
	} else {
		host, port, _ = strings.Cut(v, ":")
		if host == "" || strings.ContainsAny(host, " \t") {
			return "", 0, parseErrorf("invalid host format: %q", v)
		}
	}

	if port == "" {
		return host, 80, nil
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return "", 0, parseErrorf("invalid port in host %q", v)
	}
	return host, uint16(n), nil
}

// HeaderValue finds the first header line that starts with the literal
// "label: " and returns the text up to the following CRLF. The label is
// matched case-sensitively and the request or status line is never matched.
func HeaderValue(head, label string) (string, bool) {
	needle := "\r\n" + label + ": "
	i := strings.Index(head, needle)
	if i < 0 {
		return "", false
	}
	v := head[i+len(needle):]
	if j := strings.Index(v, "\r\n"); j >= 0 {
		v = v[:j]
	}
	return v, true
}

func field(head, label string) optional {
	v, ok := HeaderValue(head, label)
	return optional{value: v, present: ok}
}

// directiveSeconds returns the digits following label in cc, or Unspecified
// when the directive is absent or has no digits.
func directiveSeconds(cc, label string) int {
	i := strings.Index(cc, label)
	if i < 0 {
		return Unspecified
	}
	digits := cc[i+len(label):]
	end := 0
	for end < len(digits) && digits[end] >= '0' && digits[end] <= '9' {
		end++
	}
	if end == 0 {
		return Unspecified
	}
	n, err := strconv.Atoi(digits[:end])
	if err != nil {
		return Unspecified
	}
	return n
}
