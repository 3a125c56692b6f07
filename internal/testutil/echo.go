package testutil

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// StartEchoServer echoes everything each connection sends until the peer
// closes. The listener is closed when the test ends.
func StartEchoServer(t *testing.T) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()

	return ln
}

// AssertEcho writes msg to c and requires the same bytes to come back.
func AssertEcho(t *testing.T, c io.ReadWriter, msg string) {
	t.Helper()

	_, err := io.WriteString(c, msg)
	require.NoError(t, err)

	got := make([]byte, len(msg))
	_, err = io.ReadFull(c, got)
	require.NoError(t, err)
	require.Equal(t, msg, string(got))
}
