package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/cacheproxy/internal/cache"
	"github.com/die-net/cacheproxy/internal/dialer"
	"github.com/die-net/cacheproxy/internal/httpmsg"
	"github.com/die-net/cacheproxy/internal/transport"
)

// handle serves exactly one request on client. The caller closes client.
func (s *Server) handle(ctx context.Context, client net.Conn) {
	log := zerolog.Ctx(ctx)
	cr := bufio.NewReader(client)

	s.extendDeadline(client)
	raw, err := transport.Receive(cr, false)
	if err != nil {
		log.Warn().Err(err).Msg("failed to receive request")
		s.respondError(log, client, http.StatusBadRequest)
		return
	}

	req, err := httpmsg.ParseRequest(raw)
	if err != nil {
		// Unparseable requests are dropped without a reply.
		log.Warn().Err(err).Msg("dropping connection")
		return
	}
	log.Info().Str("request", req.FirstLine()).Time("received", time.Now()).Msg("request")
	log.Debug().Stringer("parsed", req).Send()

	upstream, err := dialer.Connect(ctx, s.cfg.Dialer, req.Host(), req.Port())
	if err != nil {
		log.Warn().Err(err).Str("host", req.Host()).Uint16("port", req.Port()).Msg("failed to connect upstream")
		s.respondError(log, client, http.StatusBadGateway)
		return
	}
	defer upstream.Close()

	x := &exchange{
		s:        s,
		log:      log,
		client:   client,
		upstream: upstream,
		ur:       bufio.NewReader(upstream),
		req:      req,
		raw:      raw,
	}

	switch req.Method() {
	case httpmsg.MethodGet:
		x.get(ctx)
	case httpmsg.MethodPost:
		x.post()
	case httpmsg.MethodConnect:
		x.connect(ctx, cr)
	default:
		log.Error().Stringer("method", req.Method()).Msg("unsupported method")
	}
}

// exchange is the state of one request after the upstream connection is up.
type exchange struct {
	s        *Server
	log      *zerolog.Logger
	client   net.Conn
	upstream net.Conn
	ur       *bufio.Reader
	req      *httpmsg.Request
	raw      []byte
}

func (x *exchange) post() {
	resp, err := x.roundTrip(x.raw)
	if err != nil {
		x.log.Warn().Err(err).Str("host", x.req.Host()).Msg("upstream exchange failed")
		x.fail(http.StatusBadGateway)
		return
	}
	x.logReceived(resp)
	x.respond(resp)
}

func (x *exchange) get(ctx context.Context) {
	key := x.req.FirstLine()

	cached, err := x.s.cfg.Store.Get(ctx, key)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		x.log.Info().Msg("not in cache")
		x.fetch(ctx, key)
		return
	case err != nil:
		x.log.Error().Err(err).Msg("cache lookup failed, fetching from origin")
		x.fetch(ctx, key)
		return
	}

	stored, err := httpmsg.ParseResponse(cached)
	if err != nil {
		x.log.Error().Err(err).Msg("cached response did not parse, fetching from origin")
		x.fetch(ctx, key)
		return
	}

	if stored.NoCache() {
		x.log.Info().Msg("in cache, requires validation")
		x.revalidate(ctx, key, stored, cached)
		return
	}

	fresh, err := cache.IsFresh(ctx, stored)
	if err != nil {
		x.log.Warn().Err(err).Msg("in cache, but freshness unknown; revalidating")
	}
	if !fresh {
		x.revalidate(ctx, key, stored, cached)
		return
	}

	x.log.Info().Msg("in cache, valid")
	x.respond(cached)
}

// fetch forwards the client's request verbatim and caches the reply when
// policy allows.
func (x *exchange) fetch(ctx context.Context, key string) {
	resp, _, ok := x.receiveParsed(x.raw)
	if !ok {
		return
	}
	if cache.IsStorable(ctx, resp) {
		if err := x.s.cfg.Store.Put(ctx, key, resp); err != nil {
			x.log.Error().Err(err).Msg("failed to store response")
		}
	}
	x.respond(resp)
}

// revalidate asks the origin whether cached is still current. A 304 serves
// cached; anything else replaces the entry and is served instead.
func (x *exchange) revalidate(ctx context.Context, key string, stored *httpmsg.Response, cached []byte) {
	resp, parsed, ok := x.receiveParsed(cache.BuildRevalidationRequest(stored, x.req))
	if !ok {
		return
	}

	if parsed.StatusCode() == http.StatusNotModified {
		x.log.Info().Msg("not modified, serving cached response")
		x.respond(cached)
		return
	}

	if err := x.s.cfg.Store.Put(ctx, key, resp); err != nil {
		x.log.Error().Err(err).Msg("failed to store response")
	}
	x.respond(resp)
}

// receiveParsed sends msg upstream and returns a reply that is known to
// parse. On failure the client has already been sent 502.
func (x *exchange) receiveParsed(msg []byte) ([]byte, *httpmsg.Response, bool) {
	resp, err := x.roundTrip(msg)
	if err != nil {
		x.log.Warn().Err(err).Str("host", x.req.Host()).Msg("upstream exchange failed")
		x.fail(http.StatusBadGateway)
		return nil, nil, false
	}
	parsed, err := httpmsg.ParseResponse(resp)
	if err != nil {
		x.log.Warn().Err(err).Str("host", x.req.Host()).Msg("upstream response did not parse")
		x.fail(http.StatusBadGateway)
		return nil, nil, false
	}
	x.logReceived(resp)
	return resp, parsed, true
}

func (x *exchange) connect(ctx context.Context, cr *bufio.Reader) {
	if err := transport.SendAll(x.client, []byte(connectEstablished)); err != nil {
		x.log.Warn().Err(err).Msg("failed to confirm tunnel")
		return
	}
	x.log.Info().Str("host", x.req.Host()).Msg("tunnel established")

	stats, err := relay(ctx, x.client, cr, x.upstream, x.s.cfg.TunnelIdleTimeout)
	ev := x.log.Info()
	if err != nil && !errors.Is(err, ErrTunnelIdle) {
		ev = x.log.Warn().Err(err)
	}
	ev.Int64("bytes_up", stats.clientToUpstream).
		Int64("bytes_down", stats.upstreamToClient).
		Bool("idle", errors.Is(err, ErrTunnelIdle)).
		Msg("tunnel closed")
}

func (x *exchange) roundTrip(msg []byte) ([]byte, error) {
	x.s.extendDeadline(x.upstream)
	if err := transport.SendAll(x.upstream, msg); err != nil {
		return nil, err
	}
	return transport.Receive(x.ur, true)
}

func (x *exchange) respond(resp []byte) {
	x.log.Info().Str("status", statusLine(resp)).Msg("responding")
	x.s.extendDeadline(x.client)
	if err := transport.SendAll(x.client, resp); err != nil {
		x.log.Warn().Err(err).Msg("failed to send response")
	}
}

func (x *exchange) fail(code int) {
	x.s.respondError(x.log, x.client, code)
}

func (x *exchange) logReceived(resp []byte) {
	x.log.Info().
		Str("status", statusLine(resp)).
		Str("host", x.req.Host()).
		Msg("received")
}

func statusLine(resp []byte) string {
	line, _, _ := bytes.Cut(resp, []byte("\r\n"))
	return string(line)
}

func (s *Server) respondError(log *zerolog.Logger, c net.Conn, code int) {
	log.Info().Int("status", code).Msg("responding")
	s.extendDeadline(c)
	if err := writeError(c, code); err != nil {
		log.Debug().Err(err).Msg("failed to send error response")
	}
}

func (s *Server) extendDeadline(c net.Conn) {
	if s.cfg.IOTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(s.cfg.IOTimeout))
	}
}
