package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lessonsync/pkg/interfaces"
	"lessonsync/pkg/types"
)

// TokenQueryParam is the query parameter consulted when no Authorization header is sent
const TokenQueryParam = "token"

// Gateway authenticates a connection exactly once, at handshake time.
// A failed check refuses the connection; there are no retries.
type Gateway struct {
	provider interfaces.IdentityProvider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGateway creates a gateway backed by the identity provider
func NewGateway(provider interfaces.IdentityProvider, timeout time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		provider: provider,
		timeout:  timeout,
		logger:   logger.With("component", "gateway"),
	}
}

// Authenticate resolves the identity behind the handshake request
func (g *Gateway) Authenticate(r *http.Request) (types.Identity, error) {
	credential := ExtractCredential(r)
	if credential == "" {
		g.logger.Warn("connection refused", "remote_addr", r.RemoteAddr, "error", ErrMissingCredential)
		return types.Identity{}, ErrMissingCredential
	}

	ctx := r.Context()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	identity, err := g.provider.Verify(ctx, credential)
	if err != nil {
		g.logger.Warn("connection refused", "remote_addr", r.RemoteAddr, "error", err)
		return types.Identity{}, err
	}

	g.logger.Debug("connection authenticated", "user_id", identity.ID, "role", identity.Role)
	return identity, nil
}

// ExtractCredential reads the bearer credential from the Authorization
// header, falling back to the token query parameter.
func ExtractCredential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}
	return r.URL.Query().Get(TokenQueryParam)
}
