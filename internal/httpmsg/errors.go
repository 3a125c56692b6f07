package httpmsg

import "fmt"

// ParseError reports a structurally invalid message.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse http message: " + e.Reason
}

func parseErrorf(format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}
