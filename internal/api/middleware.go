package api

import (
	"context"
	"net/http"

	"chatrelay/internal/auth"
	"chatrelay/internal/domain"
)

type contextKey string

const identityKey contextKey = "identity"

// AuthMiddleware guards the HTTP producer routes with a bearer token signed
// by the same shared secret as the websocket handshake cookie.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.ExtractBearer(r.Header.Get("Authorization"))
			if err != nil {
				handleError(w, err)
				return
			}

			identity, err := authenticator.ValidateToken(token)
			if err != nil {
				handleError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityFromContext(ctx context.Context) (*domain.Identity, error) {
	identity, ok := ctx.Value(identityKey).(*domain.Identity)
	if !ok {
		return nil, domain.ErrAuthentication.WithMessage("no identity in request context")
	}
	return identity, nil
}
