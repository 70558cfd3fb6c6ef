package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized access")
)
