package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

// ErrSOCKS5AuthRejected is returned by SOCKS5Accept when the client's
// credentials did not match.
var ErrSOCKS5AuthRejected = errors.New("socks5 server: credentials rejected")

// ErrSOCKS5NoMethod is returned by SOCKS5Accept when the client offered no
// method the server would take.
var ErrSOCKS5NoMethod = errors.New("socks5 server: no acceptable method")

// SOCKS5Accept runs the server side of a SOCKS5 handshake on conn and
// returns the client's request. A non-empty username requires the client
// to authenticate with exactly username and password. Answer the request
// with SOCKS5Reply.
func SOCKS5Accept(conn net.Conn, username, password string) (*txsocks5.Request, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("socks5 server: read methods: %w", err)
	}

	method := byte(txsocks5.MethodNone)
	if username != "" {
		method = txsocks5.MethodUsernamePassword
	}
	if !slices.Contains(neg.Methods, method) {
		_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(conn)
		return nil, ErrSOCKS5NoMethod
	}
	if _, err := txsocks5.NewNegotiationReply(method).WriteTo(conn); err != nil {
		return nil, fmt.Errorf("socks5 server: send method: %w", err)
	}

	if method == txsocks5.MethodUsernamePassword {
		up, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
		if err != nil {
			return nil, fmt.Errorf("socks5 server: read credentials: %w", err)
		}
		ok := string(up.Uname) == username && string(up.Passwd) == password
		status := byte(txsocks5.UserPassStatusFailure)
		if ok {
			status = txsocks5.UserPassStatusSuccess
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(status).WriteTo(conn); err != nil {
			return nil, fmt.Errorf("socks5 server: send auth status: %w", err)
		}
		if !ok {
			return nil, ErrSOCKS5AuthRejected
		}
	}

	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("socks5 server: read request: %w", err)
	}
	return req, nil
}

// SOCKS5Reply answers a request with rep. A nil bound replies with the IPv4
// zero address.
func SOCKS5Reply(conn net.Conn, rep byte, bound net.Addr) error {
	atyp, addr, port := byte(txsocks5.ATYPIPv4), []byte{0, 0, 0, 0}, []byte{0, 0}
	if bound != nil {
		var err error
		if atyp, addr, port, err = txsocks5.ParseAddress(bound.String()); err != nil {
			return err
		}
	}
	if _, err := txsocks5.NewReply(rep, atyp, addr, port).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5 server: send reply: %w", err)
	}
	return nil
}

// ServeSOCKS5Connect answers one CONNECT on c by dialing the requested
// destination and splicing the two until either side closes.
func ServeSOCKS5Connect(ctx context.Context, c net.Conn, username, password string) error {
	req, err := SOCKS5Accept(c, username, password)
	if err != nil {
		return err
	}
	if req.Cmd != txsocks5.CmdConnect {
		return SOCKS5Reply(c, txsocks5.RepCommandNotSupported, nil)
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		return SOCKS5Reply(c, txsocks5.RepConnectionRefused, nil)
	}
	defer dst.Close()

	if err := SOCKS5Reply(c, txsocks5.RepSuccess, dst.LocalAddr()); err != nil {
		return err
	}

	go func() {
		_, _ = io.Copy(dst, c)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
	return nil
}
