package socks5

import (
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// Auth holds optional RFC 1929 credentials. An empty Username means only
// the no-auth method is offered.
type Auth struct {
	Username string
	Password string
}

// Handshake asks the SOCKS5 server on conn to CONNECT to address. On
// success conn carries the tunnelled stream.
func Handshake(conn net.Conn, auth Auth, address string) error {
	method, err := negotiate(conn, auth)
	if err != nil {
		return err
	}
	if method == txsocks5.MethodUsernamePassword {
		if err := authenticate(conn, auth); err != nil {
			return err
		}
	}
	return connect(conn, address)
}

func negotiate(conn net.Conn, auth Auth) (byte, error) {
	offered := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		offered = append(offered, txsocks5.MethodUsernamePassword)
	}
	if _, err := txsocks5.NewNegotiationRequest(offered).WriteTo(conn); err != nil {
		return 0, fmt.Errorf("socks5: send methods: %w", err)
	}

	rep, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return 0, fmt.Errorf("socks5: read method: %w", err)
	}
	switch {
	case rep.Method == txsocks5.MethodNone:
	case rep.Method == txsocks5.MethodUsernamePassword && auth.Username != "":
	default:
		return 0, ErrNoAcceptableMethod
	}
	return rep.Method, nil
}

func authenticate(conn net.Conn, auth Auth) error {
	req := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password))
	if _, err := req.WriteTo(conn); err != nil {
		return fmt.Errorf("socks5: send credentials: %w", err)
	}

	rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5: read auth status: %w", err)
	}
	if rep.Status != txsocks5.UserPassStatusSuccess {
		return ErrAuthFailed
	}
	return nil
}

func connect(conn net.Conn, address string) error {
	atyp, host, port, err := encodeAddress(address)
	if err != nil {
		return err
	}
	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, host, port).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5: send connect: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5: read connect reply: %w", err)
	}
	if rep.Rep != ReplySucceeded {
		return &ReplyError{Code: rep.Rep}
	}
	return nil
}

// encodeAddress splits host:port into the address type, address bytes and
// port bytes of a request or reply. Domain names go without the length
// prefix ParseAddress adds, since NewRequest and NewReply add their own.
func encodeAddress(address string) (atyp byte, host, port []byte, err error) {
	atyp, host, port, err = txsocks5.ParseAddress(address)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("socks5: address %q: %w", address, err)
	}
	if atyp == txsocks5.ATYPDomain {
		host = host[1:]
	}
	return atyp, host, port, nil
}
