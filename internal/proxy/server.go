package proxy

import (
	"context"
	"errors"
	"net"
	"runtime/debug"
	"time"

	"github.com/rs/xid"
)

var (
	// Set a minimum GC heap size; every request churns through whole-message
	// buffers.  This only allocates virtual memory, not RSS.
	ballast = make([]byte, 0, 25_000_000)
	_       = ballast
)

// Server accepts client connections and handles each in its own goroutine.
type Server struct {
	ctx context.Context
	cfg Config
}

// NewServer returns a Server that serves until ctx is done.
func NewServer(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.TunnelIdleTimeout == 0 {
		cfg.TunnelIdleTimeout = DefaultTunnelIdleTimeout
	}
	return &Server{ctx: ctx, cfg: cfg}
}

// Serve accepts connections on ln until it is closed. Accept failures, such
// as running out of file descriptors, are logged and retried with backoff.
// Closing ln or cancelling the server's context makes Serve return nil.
func (s *Server) Serve(ln net.Listener) error {
	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return nil
			}
			backoff = nextBackoff(backoff)
			s.cfg.Logger.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
			select {
			case <-s.ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		go s.serveConn(c)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// serveConn runs one connection with its own logger. A panic is logged and
// confined to this connection.
func (s *Server) serveConn(c net.Conn) {
	logger := s.cfg.Logger.With().
		Str("conn", xid.New().String()).
		Str("client", c.RemoteAddr().String()).
		Logger()
	ctx := logger.WithContext(s.ctx)

	defer func() {
		if p := recover(); p != nil {
			logger.Error().
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("connection handler panicked")
		}
	}()
	defer c.Close()

	s.handle(ctx, c)
}
