package dialer

import (
	"net"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the knobs shared by every outbound dialer.
type Config struct {
	// DialTimeout bounds DNS lookup and TCP connect.
	DialTimeout time.Duration
	// NegotiationTimeout bounds the TLS, CONNECT, SOCKS5 and SSH handshakes
	// with an upstream proxy. Zero means no limit.
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig

	// SSHKey is a private key file for ssh:// upstreams, or "agent" to use
	// ssh-agent.
	SSHKey string
	// SSHKnownHosts is the known_hosts file for ssh:// upstreams. Empty
	// disables host key checking.
	SSHKnownHosts string

	Logger zerolog.Logger
}
