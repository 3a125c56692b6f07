package ssh

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// ClientConfig holds what the client presents to the server and how it
// decides to trust the server.
type ClientConfig struct {
	Username string
	Password string
	Signers  []ssh.Signer

	HostKeyCallback ssh.HostKeyCallback

	// HandshakeTimeout bounds the key exchange and authentication. Zero
	// means no limit.
	HandshakeTimeout time.Duration
}

// Validate reports whether the configuration can authenticate at all.
func (c *ClientConfig) Validate() error {
	switch {
	case c.Username == "":
		return errors.New("missing username")
	case c.Password == "" && len(c.Signers) == 0:
		return errors.New("missing password or key")
	case c.HostKeyCallback == nil:
		return errors.New("missing host key callback")
	}
	return nil
}

// AuthMethods offers public keys first, then the password.
func (c *ClientConfig) AuthMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if len(c.Signers) > 0 {
		methods = append(methods, ssh.PublicKeys(c.Signers...))
	}
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}
	return methods
}

// Handshake runs the client handshake over conn, which must already be
// connected to addr. conn is closed if the handshake fails.
func Handshake(conn net.Conn, addr string, cfg ClientConfig) (*ssh.Client, error) {
	if err := cfg.Validate(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if cfg.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}
	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            cfg.AuthMethods(),
		HostKeyCallback: cfg.HostKeyCallback,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(cc, chans, reqs), nil
}
