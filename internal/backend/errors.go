package backend

import (
	"errors"
	"fmt"
)

// TransportError means no response reached the client (timeout, DNS, refused connection)
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: no response: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError means a response arrived with a non-2xx status
type ServerError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s %s: API error: %d - %s", e.Op, e.URL, e.StatusCode, e.Body)
}

// IsTransport reports whether err carries a TransportError
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsServer reports whether err carries a ServerError
func IsServer(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}
