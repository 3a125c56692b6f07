package testutil

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"

	"github.com/die-net/cacheproxy/internal/transport"
)

// StartSingleAcceptServer accepts one connection on a loopback listener and
// passes it to handler. The returned func closes the listener and waits for
// handler to finish.
func StartSingleAcceptServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}()

	wait := func() {
		_ = ln.Close()
		wg.Wait()
	}

	return ln, wait
}

// StartHTTPOrigin serves a fixed raw response to each connection after
// reading one complete request, then closes the connection. Every request
// received is sent on the returned channel.
func StartHTTPOrigin(t *testing.T, response string) (net.Listener, <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	reqs := make(chan string, 16)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				req, err := transport.Receive(bufio.NewReader(c), false)
				if err != nil {
					return
				}
				reqs <- string(req)
				_, _ = c.Write([]byte(response))
			}()
		}
	}()

	return ln, reqs
}
