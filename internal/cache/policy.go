package cache

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/die-net/cacheproxy/internal/httpmsg"
)

const storableStatusLine = "HTTP/1.1 200 OK"

// heuristicDivisor scales the Date minus Last-Modified interval into a
// freshness lifetime when no explicit lifetime is given.
const heuristicDivisor = 10

// IsStorable reports whether the raw upstream response may be written to the
// cache. Only "HTTP/1.1 200 OK" responses qualify, and of those, ones marked
// no-store or private do not. A response that fails to parse is not storable.
//
// Decisions are logged to the logger carried by ctx.
func IsStorable(ctx context.Context, raw []byte) bool {
	log := zerolog.Ctx(ctx)

	resp, err := httpmsg.ParseResponse(raw)
	if err != nil {
		log.Debug().Err(err).Msg("not cacheable because the response did not parse")
		return false
	}
	if resp.FirstLine() != storableStatusLine {
		log.Debug().Str("status", resp.FirstLine()).Msg("not cacheable because status is not 200 OK")
		return false
	}
	if _, ok := resp.CacheControl(); !ok {
		return true
	}

	switch {
	case resp.NoStore():
		log.Info().Msg("not cacheable because Cache-Control: no-store")
		return false
	case resp.Private():
		log.Info().Msg("not cacheable because Cache-Control: private")
		return false
	case resp.NoCache():
		log.Info().Msg("cached, but requires re-validation")
	}
	return true
}

// IsFresh reports whether a stored response can be served without contacting
// the origin. The current age is the response's Age header, which must be
// present and numeric. The freshness lifetime comes from the first of
// s-maxage, max-age, Expires (read as a number of seconds) or one tenth of the
// time between Date and Last-Modified. With none of these the response is
// stale.
func IsFresh(ctx context.Context, resp *httpmsg.Response) (bool, error) {
	log := zerolog.Ctx(ctx)

	rawAge, ok := resp.Age()
	if !ok {
		return false, &httpmsg.ParseError{Reason: "missing Age header"}
	}
	age, err := seconds("Age", rawAge)
	if err != nil {
		return false, err
	}

	lifetime, ok, err := freshnessLifetime(resp)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Debug().Msg("in cache, but no freshness information")
		return false, nil
	}

	if lifetime > float64(age) {
		return true, nil
	}
	log.Info().Float64("lifetime", lifetime).Int("age", age).Msg("in cache, but expired")
	return false, nil
}

func freshnessLifetime(resp *httpmsg.Response) (float64, bool, error) {
	if v, ok := resp.SMaxAge(); ok {
		n, err := seconds("s-maxage", v)
		return float64(n), true, err
	}
	if v, ok := resp.MaxAge(); ok {
		n, err := seconds("max-age", v)
		return float64(n), true, err
	}
	if v, ok := resp.Expires(); ok {
		n, err := seconds("Expires", v)
		return float64(n), true, err
	}
	if v, ok := resp.LastModified(); ok {
		date, err := http.ParseTime(resp.Date())
		if err != nil {
			return 0, false, &httpmsg.ParseError{Reason: "invalid Date: " + err.Error()}
		}
		modified, err := http.ParseTime(v)
		if err != nil {
			return 0, false, &httpmsg.ParseError{Reason: "invalid Last-Modified: " + err.Error()}
		}
		return date.Sub(modified).Seconds() / heuristicDivisor, true, nil
	}
	return 0, false, nil
}

func seconds(name, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, &httpmsg.ParseError{Reason: "invalid " + name + ": " + strconv.Quote(v)}
	}
	return n, nil
}

// BuildRevalidationRequest returns the bytes to send upstream to revalidate
// resp, which was stored for req. A stored ETag produces If-None-Match,
// otherwise a stored Last-Modified produces If-Modified-Since. Without either
// the client's request head is returned unchanged and the origin answers with
// a full response.
func BuildRevalidationRequest(resp *httpmsg.Response, req *httpmsg.Request) []byte {
	var name, value string
	if etag, ok := resp.ETag(); ok {
		name, value = "If-None-Match", etag
	} else if lm, ok := resp.LastModified(); ok {
		name, value = "If-Modified-Since", lm
	} else {
		return req.Head()
	}

	var b bytes.Buffer
	for i, line := range strings.Split(string(req.Head()), "\r\n") {
		if line == "" || (i > 0 && isConditionalHeader(line)) {
			continue
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n\r\n")
	return b.Bytes()
}

func isConditionalHeader(line string) bool {
	name, _, ok := strings.Cut(line, ":")
	if !ok {
		return false
	}
	return strings.EqualFold(name, "If-None-Match") || strings.EqualFold(name, "If-Modified-Since")
}
