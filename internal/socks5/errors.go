package socks5

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailed is returned when username/password authentication is
	// rejected.
	ErrAuthFailed = errors.New("socks5: auth failed")

	// ErrNoAcceptableMethod is returned when the peers share no
	// authentication method.
	ErrNoAcceptableMethod = errors.New("socks5: no acceptable authentication method")
)

// Reply codes from RFC 1928 section 6.
const (
	ReplySucceeded           byte = 0x00
	ReplyGeneralFailure      byte = 0x01
	ReplyNotAllowed          byte = 0x02
	ReplyNetworkUnreachable  byte = 0x03
	ReplyHostUnreachable     byte = 0x04
	ReplyConnectionRefused   byte = 0x05
	ReplyTTLExpired          byte = 0x06
	ReplyCommandNotSupported byte = 0x07
	ReplyAddressNotSupported byte = 0x08
)

var replyText = map[byte]string{
	ReplyGeneralFailure:      "general failure",
	ReplyNotAllowed:          "not allowed by ruleset",
	ReplyNetworkUnreachable:  "network unreachable",
	ReplyHostUnreachable:     "host unreachable",
	ReplyConnectionRefused:   "connection refused",
	ReplyTTLExpired:          "TTL expired",
	ReplyCommandNotSupported: "command not supported",
	ReplyAddressNotSupported: "address type not supported",
}

// ReplyError is a CONNECT request the server answered with something other
// than ReplySucceeded.
type ReplyError struct {
	Code byte
}

func (e *ReplyError) Error() string {
	if text, ok := replyText[e.Code]; ok {
		return "socks5: connect failed: " + text
	}
	return fmt.Sprintf("socks5: connect failed: reply code %#02x", e.Code)
}
