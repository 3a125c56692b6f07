// Package socks5 runs the client side of the SOCKS5 CONNECT handshake
// (RFC 1928, RFC 1929) over an already established connection, on top of
// the wire types in github.com/txthinking/socks5.
//
// Handshake is what internal/dialer uses to chain outbound connections
// through a SOCKS5 upstream.
package socks5
