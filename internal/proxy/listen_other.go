//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package proxy

import (
	"errors"
	"syscall"
)

func reuseControl(reusePort bool) func(network, address string, c syscall.RawConn) error {
	if !reusePort {
		return nil
	}
	return func(string, string, syscall.RawConn) error {
		return errors.New("SO_REUSEPORT is not supported on this platform")
	}
}
