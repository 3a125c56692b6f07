package proxy

import (
	"fmt"
	"io"
	"net/http"
)

const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// writeError sends a minimal error response on a raw client connection.
func writeError(w io.Writer, code int) error {
	body := fmt.Sprintf("%d %s\r\n", code, http.StatusText(code))
	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		code, http.StatusText(code), len(body), body)
	return err
}
