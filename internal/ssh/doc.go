// Package ssh sets up the SSH client side of an ssh:// upstream: which
// credentials to offer, how to check the server's host key, and the
// handshake itself.
//
// Host keys are checked against a known_hosts file. A host that is not in
// the file yet is trusted and appended on first contact; a host that is
// listed with a different key is refused.
package ssh
