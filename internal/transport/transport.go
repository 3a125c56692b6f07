// Package transport moves whole HTTP/1.1 messages over raw connections.
//
// Messages are returned byte-for-byte as they arrived: header block plus a
// body framed by Transfer-Encoding: chunked, Content-Length, or (responses
// only) connection close.
package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxHeaderBytes caps the size of a message head.
const MaxHeaderBytes = 64 << 10

var (
	// ErrIncomplete is returned when the peer stops sending before a message
	// is fully framed.
	ErrIncomplete = errors.New("incomplete http message")

	// ErrHeaderTooLarge is returned when no blank line shows up within
	// MaxHeaderBytes.
	ErrHeaderTooLarge = errors.New("http message head too large")
)

// Receive reads one complete message from r. When expectResponse is false
// the message is a request and only Content-Length or chunked framing gives
// it a body.
func Receive(r *bufio.Reader, expectResponse bool) ([]byte, error) {
	var msg bytes.Buffer

	if err := readHead(r, &msg); err != nil {
		return nil, err
	}
	head := msg.String()

	switch {
	case expectResponse && !responseHasBody(head):
		return msg.Bytes(), nil
	case isChunked(head):
		if err := readChunked(r, &msg); err != nil {
			return nil, err
		}
	default:
		n, ok, err := contentLength(head)
		if err != nil {
			return nil, err
		}
		switch {
		case ok:
			if _, err := io.CopyN(&msg, r, n); err != nil {
				return nil, incomplete(err)
			}
		case expectResponse:
			if _, err := io.Copy(&msg, r); err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
		}
	}

	return msg.Bytes(), nil
}

// SendAll writes all of b to w.
func SendAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("send: %w", io.ErrShortWrite)
		}
		b = b[n:]
	}
	return nil
}

func incomplete(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrIncomplete, err)
	}
	return err
}

// readHead copies lines into msg up to and including the blank line. Empty
// lines ahead of the start line are dropped.
func readHead(r *bufio.Reader, msg *bytes.Buffer) error {
	for {
		line, err := readLine(r, MaxHeaderBytes-msg.Len())
		if err != nil {
			return err
		}
		if msg.Len() == 0 && isBlank(line) {
			continue
		}
		msg.Write(line)
		if isBlank(line) {
			return nil
		}
	}
}

// readLine returns the next LF-terminated line, failing once it grows past
// limit bytes.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	for {
		frag, err := r.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > limit {
			return nil, ErrHeaderTooLarge
		}
		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, incomplete(err)
		}
	}
}

func isBlank(line []byte) bool {
	return len(line) <= 2 && len(bytes.TrimRight(line, "\r\n")) == 0
}

// header returns the first value of name, matched case-insensitively.
func header(head, name string) (string, bool) {
	lines := strings.Split(head, "\n")
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func isChunked(head string) bool {
	te, ok := header(head, "Transfer-Encoding")
	return ok && strings.Contains(strings.ToLower(te), "chunked")
}

func contentLength(head string) (int64, bool, error) {
	v, ok := header(head, "Content-Length")
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("invalid Content-Length %q", v)
	}
	return n, true, nil
}

// responseHasBody reports false for 1xx, 204 and 304 responses.
func responseHasBody(head string) bool {
	line, _, _ := strings.Cut(head, "\r\n")
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return true
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return true
	}
	return !(code >= 100 && code < 200) && code != 204 && code != 304
}

// readChunked copies a chunked body, trailers included, into msg.
func readChunked(r *bufio.Reader, msg *bytes.Buffer) error {
	for {
		line, err := readLine(r, MaxHeaderBytes)
		if err != nil {
			return err
		}
		msg.Write(line)

		sizeText, _, _ := strings.Cut(strings.TrimSpace(string(line)), ";")
		size, err := strconv.ParseInt(strings.TrimSpace(sizeText), 16, 64)
		if err != nil || size < 0 {
			return fmt.Errorf("invalid chunk size %q", sizeText)
		}

		if size == 0 {
			for {
				trailer, err := readLine(r, MaxHeaderBytes)
				if err != nil {
					return err
				}
				msg.Write(trailer)
				if isBlank(trailer) {
					return nil
				}
			}
		}

		// Chunk data plus its CRLF.
		if _, err := io.CopyN(msg, r, size+2); err != nil {
			return incomplete(err)
		}
	}
}
