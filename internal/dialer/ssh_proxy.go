package dialer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"

	internalssh "github.com/die-net/cacheproxy/internal/ssh"
)

// SSHProxyDialer reaches its destinations through an SSH server, opening one
// direct-tcpip channel per connection over a single shared transport.
//
// The transport is dialed on first use. When opening a channel fails for a
// reason other than the server refusing that destination, the transport is
// assumed dead and is redialed once.
type SSHProxyDialer struct {
	sshAddr   string
	clientCfg internalssh.ClientConfig
	direct    Dialer

	mu         sync.Mutex
	client     *ssh.Client
	connecting singleflight.Group
}

// NewSSHProxyDialer returns a dialer tunnelling through the SSH server at
// sshAddr. Keys come from cfg.SSHKey and server identity is checked against
// cfg.SSHKnownHosts. At least one of password and key is required.
func NewSSHProxyDialer(cfg Config, sshAddr, username, password string) (*SSHProxyDialer, error) {
	if sshAddr == "" {
		return nil, errors.New("ssh proxy dialer: missing ssh address")
	}

	signers, err := internalssh.LoadSigners(cfg.SSHKey)
	if err != nil {
		return nil, fmt.Errorf("ssh proxy dialer: %w", err)
	}
	hostKeys, err := internalssh.NewHostKeyCallback(cfg.SSHKnownHosts, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("ssh proxy dialer: %w", err)
	}

	clientCfg := internalssh.ClientConfig{
		Username:         username,
		Password:         password,
		Signers:          signers,
		HostKeyCallback:  hostKeys,
		HandshakeTimeout: cfg.NegotiationTimeout,
	}
	if err := clientCfg.Validate(); err != nil {
		return nil, fmt.Errorf("ssh proxy dialer: %w", err)
	}

	return &SSHProxyDialer{
		sshAddr:   sshAddr,
		clientCfg: clientCfg,
		direct:    NewDirectDialer(cfg),
	}, nil
}

// DialContext opens a channel to address. Cancelling ctx closes the
// returned connection.
func (d *SSHProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ssh proxy dial %s %s: unsupported network", network, address)
	}

	client, err := d.transport(ctx)
	if err != nil {
		return nil, fmt.Errorf("ssh proxy dial %s: %w", address, err)
	}

	ch, err := client.DialContext(ctx, "tcp", address)
	var refused *ssh.OpenChannelError
	if err != nil && ctx.Err() == nil && !errors.As(err, &refused) {
		d.drop(client)
		if client, err = d.transport(ctx); err == nil {
			ch, err = client.DialContext(ctx, "tcp", address)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("ssh proxy dial %s: %w", address, err)
	}

	conn := withDeadlines(ch)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	return &sshChannelConn{Conn: conn, stop: stop}, nil
}

// withDeadlines puts ch behind an in-memory pipe. SSH channels ignore
// deadlines, and the proxy's I/O and idle timeouts depend on them. Closing
// either end closes the other.
func withDeadlines(ch net.Conn) net.Conn {
	near, far := net.Pipe()
	go func() {
		_, _ = io.Copy(far, ch)
		_ = far.Close()
	}()
	go func() {
		_, _ = io.Copy(ch, far)
		_ = ch.Close()
	}()
	return near
}

// transport returns the shared client, dialing it if there is none. Callers
// waiting on the same dial share its result; a caller whose ctx ends stops
// waiting without aborting the dial for the others.
func (d *SSHProxyDialer) transport(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client != nil {
		return client, nil
	}

	res := d.connecting.DoChan("transport", func() (any, error) {
		d.mu.Lock()
		if d.client != nil {
			c := d.client
			d.mu.Unlock()
			return c, nil
		}
		d.mu.Unlock()

		c, err := d.handshake(context.Background())
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.client = c
		d.mu.Unlock()
		return c, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*ssh.Client), nil
	}
}

func (d *SSHProxyDialer) handshake(ctx context.Context) (*ssh.Client, error) {
	conn, err := d.direct.DialContext(ctx, "tcp", d.sshAddr)
	if err != nil {
		return nil, err
	}
	return internalssh.Handshake(conn, d.sshAddr, d.clientCfg)
}

// drop closes client and forgets it, unless it has already been replaced.
func (d *SSHProxyDialer) drop(client *ssh.Client) {
	d.mu.Lock()
	if d.client == client {
		d.client = nil
	}
	d.mu.Unlock()
	_ = client.Close()
}

// Close shuts down the shared transport and every channel on it.
func (d *SSHProxyDialer) Close() error {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

type sshChannelConn struct {
	net.Conn
	stop func() bool
}

func (c *sshChannelConn) Close() error {
	c.stop()
	return c.Conn.Close()
}
