package testutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// SSHServer is a loopback SSH server that only serves direct-tcpip
// channels, the way `ssh -D` uses them.
type SSHServer struct {
	net.Listener
	HostKey ssh.PublicKey

	handshakes atomic.Int32
}

// Handshakes reports how many clients have authenticated so far.
func (s *SSHServer) Handshakes() int {
	return int(s.handshakes.Load())
}

// SSHServerAuth is what the server accepts. A zero field disables that
// method.
type SSHServerAuth struct {
	Username      string
	Password      string
	AuthorizedKey ssh.PublicKey
}

// StartSSHServer serves until the test ends.
func StartSSHServer(t *testing.T, auth SSHServerAuth) *SSHServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{}
	if auth.Password != "" {
		cfg.PasswordCallback = func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() != auth.Username || string(pass) != auth.Password {
				return nil, errors.New("wrong password")
			}
			return &ssh.Permissions{}, nil
		}
	}
	if auth.AuthorizedKey != nil {
		want := auth.AuthorizedKey.Marshal()
		cfg.PublicKeyCallback = func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if meta.User() != auth.Username || !bytes.Equal(key.Marshal(), want) {
				return nil, errors.New("unknown key")
			}
			return &ssh.Permissions{}, nil
		}
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	s := &SSHServer{Listener: ln, HostKey: hostSigner.PublicKey()}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(c, cfg)
		}
	}()
	return s
}

// directTCPIP is the RFC 4254 section 7.2 channel open payload.
type directTCPIP struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

func (s *SSHServer) serve(c net.Conn, cfg *ssh.ServerConfig) {
	defer c.Close()

	sc, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		return
	}
	defer sc.Close()
	s.handshakes.Add(1)
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			_ = nc.Reject(ssh.UnknownChannelType, "only direct-tcpip is served")
			continue
		}
		var p directTCPIP
		if err := ssh.Unmarshal(nc.ExtraData(), &p); err != nil {
			_ = nc.Reject(ssh.Prohibited, "malformed direct-tcpip payload")
			continue
		}

		dst, err := net.Dial("tcp", net.JoinHostPort(p.Host, strconv.FormatUint(uint64(p.Port), 10)))
		if err != nil {
			_ = nc.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := nc.Accept()
		if err != nil {
			_ = dst.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go splice(ch, dst)
	}
}

func splice(ch ssh.Channel, dst net.Conn) {
	defer ch.Close()
	defer dst.Close()

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(dst, ch)
		if tc, ok := dst.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(ch, dst)
		_ = ch.CloseWrite()
		return err
	})
	_ = g.Wait()
}
