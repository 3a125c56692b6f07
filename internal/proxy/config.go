package proxy

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/cacheproxy/internal/cache"
	"github.com/die-net/cacheproxy/internal/dialer"
)

// DefaultTunnelIdleTimeout is how long a CONNECT tunnel may carry no bytes in
// either direction before it is torn down.
const DefaultTunnelIdleTimeout = 10 * time.Second

type Config struct {
	Store  cache.Store
	Dialer dialer.Dialer

	// IOTimeout bounds each request/response exchange with the client and
	// the origin. Zero waits forever.
	IOTimeout time.Duration

	// TunnelIdleTimeout closes a CONNECT tunnel after this much mutual
	// silence. Zero means DefaultTunnelIdleTimeout; negative disables it.
	TunnelIdleTimeout time.Duration

	Logger zerolog.Logger
}
