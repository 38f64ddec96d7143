package client

import "errors"

var (
	// ErrUnavailable means the request never got an answer from the server:
	// connection refused, timeout or a gateway error.
	ErrUnavailable = errors.New("server unavailable")
	// ErrNoCachedSession means this machine holds no session to resume.
	ErrNoCachedSession = errors.New("no cached session")
)

// IsUnavailable reports whether err means the server could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
