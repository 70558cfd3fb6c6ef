package auth

import (
	"errors"
	"fmt"

	"lessonsync/pkg/interfaces"
)

// Authentication failures. All of them match interfaces.ErrUnauthenticated.
var (
	ErrMissingCredential = fmt.Errorf("%w: missing bearer credential", interfaces.ErrUnauthenticated)
	ErrInvalidCredential = fmt.Errorf("%w: invalid or expired credential", interfaces.ErrUnauthenticated)
	ErrInvalidIdentity   = fmt.Errorf("%w: credential does not carry a usable identity", interfaces.ErrUnauthenticated)
)

// ErrEmptySecret is returned when a JWT provider is built without a key
var ErrEmptySecret = errors.New("jwt secret cannot be empty")
