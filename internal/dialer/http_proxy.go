package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPProxyDialer reaches its destinations through an HTTP or HTTPS proxy
// by issuing CONNECT.
type HTTPProxyDialer struct {
	cfg       Config
	proxyAddr string
	tlsConfig *tls.Config // nil for plain http
	authz     string
	direct    Dialer
}

// NewHTTPProxyDialer returns a dialer tunnelling through proxyURL. A
// non-empty username is sent as Basic Proxy-Authorization.
func NewHTTPProxyDialer(cfg Config, proxyURL *url.URL, username, password string) (*HTTPProxyDialer, error) {
	if proxyURL == nil || proxyURL.Hostname() == "" {
		return nil, errors.New("http proxy dialer: missing proxy host")
	}

	d := &HTTPProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyURL.Host,
		direct:    NewDirectDialer(cfg),
	}
	switch proxyURL.Scheme {
	case "http":
	case "https":
		d.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: proxyURL.Hostname()}
	default:
		return nil, fmt.Errorf("http proxy dialer: unsupported scheme: %q", proxyURL.Scheme)
	}
	if username != "" {
		d.authz = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	}
	return d, nil
}

// DialContext returns a connection tunnelled to address. NegotiationTimeout
// bounds the TLS and CONNECT exchange with the proxy; cancelling ctx aborts
// it.
func (d *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}

	c, err := d.direct.DialContext(ctx, network, d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("http proxy: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if d.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(d.cfg.NegotiationTimeout))
	}

	tunnel, err := d.handshake(ctx, c, address)
	if err == nil && !stop() {
		err = ctx.Err()
	}
	if err != nil {
		_ = c.Close()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("http proxy dial %s %s: %w", network, address, err)
	}

	_ = tunnel.SetDeadline(time.Time{})
	return tunnel, nil
}

func (d *HTTPProxyDialer) handshake(ctx context.Context, c net.Conn, address string) (net.Conn, error) {
	if d.tlsConfig != nil {
		tc := tls.Client(c, d.tlsConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		c = tc
	}

	var head strings.Builder
	head.WriteString("CONNECT " + address + " HTTP/1.1\r\nHost: " + address + "\r\n")
	if d.authz != "" {
		head.WriteString("Proxy-Authorization: " + d.authz + "\r\n")
	}
	head.WriteString("\r\n")
	if _, err := c.Write([]byte(head.String())); err != nil {
		return nil, fmt.Errorf("send connect: %w", err)
	}

	br := bufio.NewReader(c)
	if err := readConnectReply(br); err != nil {
		return nil, err
	}
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: c, r: br}, nil
	}
	return c, nil
}

// readConnectReply consumes the proxy's reply head and fails unless its
// status is 2xx.
func readConnectReply(br *bufio.Reader) error {
	tp := textproto.NewReader(br)
	status, err := tp.ReadLine()
	if err != nil {
		return fmt.Errorf("read connect reply: %w", err)
	}
	if _, err := tp.ReadMIMEHeader(); err != nil {
		return fmt.Errorf("read connect reply: %w", err)
	}

	proto, rest, _ := strings.Cut(status, " ")
	code, _, _ := strings.Cut(rest, " ")
	n, err := strconv.Atoi(code)
	if !strings.HasPrefix(proto, "HTTP/1.") || err != nil {
		return fmt.Errorf("malformed connect reply %q", status)
	}
	if n/100 != 2 {
		return fmt.Errorf("connect refused: %s", rest)
	}
	return nil
}

// bufferedConn hands out bytes the origin sent right behind the CONNECT
// reply before reading from the socket again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
