// Package httpmsg parses raw HTTP/1.x message heads into immutable request and
// response descriptions.
//
// Parsing is deliberately narrow: each field is found by scanning for a
// literal, case-sensitive label at the start of a header line and taking the
// text up to the next CRLF. The first occurrence wins, folded headers are not
// joined, and headers the proxy does not care about are never tokenized. The
// raw head is retained verbatim so that callers can rebuild requests from it.
package httpmsg
