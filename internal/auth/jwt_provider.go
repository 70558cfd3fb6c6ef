package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"lessonsync/pkg/types"
)

// Claims carried by a lessonsync bearer token. The subject is the user id.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTProvider verifies HS256 bearer tokens issued by the surrounding
// application. It never issues tokens itself.
type JWTProvider struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTProvider creates a provider for the shared secret.
// Issuer is checked only when non-empty.
func NewJWTProvider(secret, issuer string, leeway time.Duration) (*JWTProvider, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &JWTProvider{
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify implements interfaces.IdentityProvider
func (p *JWTProvider) Verify(ctx context.Context, credential string) (types.Identity, error) {
	if err := ctx.Err(); err != nil {
		return types.Identity{}, err
	}

	token, err := p.parser.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	})
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return types.Identity{}, ErrInvalidCredential
	}

	identity := types.Identity{
		ID:       claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
	}
	if err := identity.Validate(); err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return identity, nil
}
