package dialer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/die-net/cacheproxy/internal/testutil"
)

var sshTestConfig = Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}

func TestSSHProxyDialerSharesTransport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echo1 := testutil.StartEchoServer(t)
	echo2 := testutil.StartEchoServer(t)
	srv := testutil.StartSSHServer(t, testutil.SSHServerAuth{Username: "user", Password: "pass"})

	d, err := NewSSHProxyDialer(sshTestConfig, srv.Addr().String(), "user", "pass")
	require.NoError(t, err)
	defer d.Close()

	c1, err := d.DialContext(ctx, "tcp", echo1.Addr().String())
	require.NoError(t, err)
	testutil.AssertEcho(t, c1, "hello")
	require.NoError(t, c1.Close())

	c2, err := d.DialContext(ctx, "tcp", echo2.Addr().String())
	require.NoError(t, err)
	defer c2.Close()
	testutil.AssertEcho(t, c2, "hello again")

	assert.Equal(t, 1, srv.Handshakes())
}

func TestSSHProxyDialerPrivateKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	srv := testutil.StartSSHServer(t, testutil.SSHServerAuth{Username: "user", AuthorizedKey: sshPub})
	echo := testutil.StartEchoServer(t)

	cfg := sshTestConfig
	cfg.SSHKey = keyPath
	d, err := NewSSHProxyDialer(cfg, srv.Addr().String(), "user", "")
	require.NoError(t, err)
	defer d.Close()

	c, err := d.DialContext(ctx, "tcp", echo.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	testutil.AssertEcho(t, c, "keyed")
}

func TestSSHProxyDialerWrongPassword(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := testutil.StartSSHServer(t, testutil.SSHServerAuth{Username: "user", Password: "pass"})

	d, err := NewSSHProxyDialer(sshTestConfig, srv.Addr().String(), "user", "wrong")
	require.NoError(t, err)

	_, err = d.DialContext(ctx, "tcp", "127.0.0.1:1")
	require.ErrorContains(t, err, "unable to authenticate")
	assert.Nil(t, d.client)
}

func TestSSHProxyDialerRefusedDestinationKeepsTransport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := testutil.StartSSHServer(t, testutil.SSHServerAuth{Username: "user", Password: "pass"})
	echo := testutil.StartEchoServer(t)

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, closed.Close())

	d, err := NewSSHProxyDialer(sshTestConfig, srv.Addr().String(), "user", "pass")
	require.NoError(t, err)
	defer d.Close()

	_, err = d.DialContext(ctx, "tcp", closed.Addr().String())
	var openErr *ssh.OpenChannelError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, ssh.ConnectionFailed, openErr.Reason)

	c, err := d.DialContext(ctx, "tcp", echo.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	testutil.AssertEcho(t, c, "still up")
	assert.Equal(t, 1, srv.Handshakes())
}

func TestSSHProxyDialerRedialsDeadTransport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := testutil.StartSSHServer(t, testutil.SSHServerAuth{Username: "user", Password: "pass"})
	echo := testutil.StartEchoServer(t)

	d, err := NewSSHProxyDialer(sshTestConfig, srv.Addr().String(), "user", "pass")
	require.NoError(t, err)
	defer d.Close()

	c, err := d.DialContext(ctx, "tcp", echo.Addr().String())
	require.NoError(t, err)
	_ = c.Close()

	// Kill the transport behind the dialer's back.
	d.mu.Lock()
	stale := d.client
	d.mu.Unlock()
	require.NoError(t, stale.Close())

	c, err = d.DialContext(ctx, "tcp", echo.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	testutil.AssertEcho(t, c, "redialed")
	assert.Equal(t, 2, srv.Handshakes())
}

func TestSSHProxyDialerDeadlines(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := testutil.StartSSHServer(t, testutil.SSHServerAuth{Username: "user", Password: "pass"})
	echo := testutil.StartEchoServer(t)

	d, err := NewSSHProxyDialer(sshTestConfig, srv.Addr().String(), "user", "pass")
	require.NoError(t, err)
	defer d.Close()

	c, err := d.DialContext(ctx, "tcp", echo.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	_, err = c.Read(make([]byte, 1))
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)

	require.NoError(t, c.SetReadDeadline(time.Time{}))
	testutil.AssertEcho(t, c, "after timeout")
}

func TestSSHProxyDialerCancelClosesConn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := testutil.StartSSHServer(t, testutil.SSHServerAuth{Username: "user", Password: "pass"})
	echo := testutil.StartEchoServer(t)

	d, err := NewSSHProxyDialer(sshTestConfig, srv.Addr().String(), "user", "pass")
	require.NoError(t, err)
	defer d.Close()

	c, err := d.DialContext(ctx, "tcp", echo.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	cancel()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = c.Read(make([]byte, 1))
	require.Error(t, err)
	assert.False(t, errors.Is(err, os.ErrDeadlineExceeded), "read should end because of cancel, got %v", err)
}

func TestSSHProxyDialerKnownHosts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := testutil.StartSSHServer(t, testutil.SSHServerAuth{Username: "user", Password: "pass"})
	echo := testutil.StartEchoServer(t)
	path := filepath.Join(t.TempDir(), "ssh", "known_hosts")

	cfg := sshTestConfig
	cfg.SSHKnownHosts = path
	d, err := NewSSHProxyDialer(cfg, srv.Addr().String(), "user", "pass")
	require.NoError(t, err)

	c, err := d.DialContext(ctx, "tcp", echo.Addr().String())
	require.NoError(t, err)
	_ = c.Close()
	require.NoError(t, d.Close())

	recorded, err := os.ReadFile(path)
	require.NoError(t, err)
	want := knownhosts.Line([]string{knownhosts.Normalize(srv.Addr().String())}, srv.HostKey)
	assert.Equal(t, want+"\n", string(recorded))

	// A different server on the same address must be refused.
	other := testutil.StartSSHServer(t, testutil.SSHServerAuth{Username: "user", Password: "pass"})
	impostor := knownhosts.Line([]string{knownhosts.Normalize(other.Addr().String())}, srv.HostKey)
	require.NoError(t, os.WriteFile(path, []byte(impostor+"\n"), 0o600))

	d, err = NewSSHProxyDialer(cfg, other.Addr().String(), "user", "pass")
	require.NoError(t, err)
	_, err = d.DialContext(ctx, "tcp", echo.Addr().String())
	require.ErrorContains(t, err, "host key mismatch")
	assert.Zero(t, other.Handshakes())
}

func TestNewSSHProxyDialerRejects(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		user     string
		pass     string
		contains string
	}{
		{name: "no username", pass: "pass", contains: "missing username"},
		{name: "no password or key", user: "user", contains: "missing password or key"},
		{name: "unreadable key", cfg: Config{SSHKey: "/nonexistent/id_ed25519"}, user: "user", contains: "read ssh key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSSHProxyDialer(tt.cfg, "127.0.0.1:22", tt.user, tt.pass)
			require.ErrorContains(t, err, tt.contains)
		})
	}
}

func TestSSHProxyDialerRejectsUDP(t *testing.T) {
	d, err := NewSSHProxyDialer(Config{}, "127.0.0.1:22", "user", "pass")
	require.NoError(t, err)
	_, err = d.DialContext(context.Background(), "udp", "127.0.0.1:53")
	require.Error(t, err)
}
