package remote

import (
	"errors"
	"fmt"
)

// StatusError is returned when the remote answers with a non-success status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned status %d", e.Code)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.Code, e.Message)
}

// ErrTokenExpired is returned when the configured access token has expired.
var ErrTokenExpired = errors.New("access token expired")

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
