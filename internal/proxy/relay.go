package proxy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/cacheproxy/internal/transport"
)

// ErrTunnelIdle ends a tunnel in which neither side sent anything for the
// whole idle window.
var ErrTunnelIdle = errors.New("tunnel idle")

type relayStats struct {
	clientToUpstream int64
	upstreamToClient int64
}

// activity records when the last byte moved in either direction.
type activity struct {
	last atomic.Int64
}

func (a *activity) touch() {
	a.last.Store(time.Now().UnixNano())
}

func (a *activity) deadline(idle time.Duration) time.Time {
	return time.Unix(0, a.last.Load()).Add(idle)
}

// relay copies bytes between client and upstream until either side closes,
// an error occurs, ctx is done, or idle elapses with no traffic either way.
// Bytes already buffered in cr are sent upstream first. Both connections are
// closed on return.
//
// A clean close by either peer and an idle timeout are not errors to the
// caller; the returned error is ErrTunnelIdle for the latter.
func relay(ctx context.Context, client net.Conn, cr *bufio.Reader, upstream net.Conn, idle time.Duration) (relayStats, error) {
	var stats relayStats

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	_ = client.SetDeadline(time.Time{})
	_ = upstream.SetDeadline(time.Time{})

	if n := cr.Buffered(); n > 0 {
		pending, _ := cr.Peek(n)
		if err := transport.SendAll(upstream, pending); err != nil {
			return stats, err
		}
		_, _ = cr.Discard(n)
		stats.clientToUpstream += int64(n)
	}

	var act activity
	act.touch()

	g := errgroup.Group{}
	g.Go(func() error {
		defer closeBoth()
		return pump(upstream, client, &act, idle, &stats.clientToUpstream)
	})
	g.Go(func() error {
		defer closeBoth()
		return pump(client, upstream, &act, idle, &stats.upstreamToClient)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return stats, ctx.Err()
	}
	return stats, err
}

// pump moves bytes from src to dst. A read that times out only ends the
// pump once the shared activity shows the whole window passed in silence.
func pump(dst, src net.Conn, act *activity, idle time.Duration, counter *int64) error {
	bufp := getRelayBuffer()
	defer putRelayBuffer(bufp)
	buf := *bufp

	for {
		if idle > 0 {
			_ = src.SetReadDeadline(act.deadline(idle))
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			act.touch()
			if idle > 0 {
				_ = dst.SetWriteDeadline(time.Now().Add(idle))
			}
			if err := transport.SendAll(dst, buf[:n]); err != nil {
				return quiet(err)
			}
			act.touch()
			atomic.AddInt64(counter, int64(n))
		}

		if rerr == nil {
			continue
		}
		if errors.Is(rerr, os.ErrDeadlineExceeded) {
			if time.Now().Before(act.deadline(idle)) {
				continue
			}
			return ErrTunnelIdle
		}
		return quiet(rerr)
	}
}

// quiet maps the errors of an orderly teardown to nil.
func quiet(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
