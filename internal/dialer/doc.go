// Package dialer opens outbound connections for the caching proxy.
//
// Every dialer implements DialContext. Connections go either straight to the
// origin or through an upstream proxy (HTTP CONNECT, SOCKS5 or an SSH server),
// selected by URL with New.
package dialer
