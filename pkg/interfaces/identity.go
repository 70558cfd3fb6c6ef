package interfaces

import (
	"context"

	"lessonsync/pkg/types"
)

// IdentityProvider verifies a bearer credential and returns the caller it
// belongs to. Implementations must not return a partially filled Identity
// alongside an error.
type IdentityProvider interface {
	Verify(ctx context.Context, credential string) (types.Identity, error)
}
