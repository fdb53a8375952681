package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"chatrelay/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the handshake cookie field carrying the signed credential.
const CookieName = "access_token"

const bearerPrefix = "Bearer "

type AccessClaims struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates inbound connection credentials against the shared
// HMAC secret. Construction fails when the secret is missing so the process
// refuses to start half-configured.
type Authenticator struct {
	secret string
}

func NewAuthenticator(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, domain.ErrConfiguration.WithMessage("jwt secret is not set")
	}
	return &Authenticator{secret: secret}, nil
}

// Authenticate inspects the websocket handshake request and returns the
// validated identity, or an AuthenticationError. It must be called before
// the upgrade: a rejected connection never reaches any event handler.
func (a *Authenticator) Authenticate(r *http.Request) (*domain.Identity, error) {
	if r.Header.Get("Cookie") == "" {
		return nil, domain.ErrAuthentication.WithMessage("no cookie header on handshake")
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, domain.ErrAuthentication.WithMessage(fmt.Sprintf("cookie %q is missing", CookieName))
	}

	return a.ValidateToken(cookie.Value)
}

// ValidateToken verifies signature and expiry, then shape-checks the claims.
func (a *Authenticator) ValidateToken(tokenString string) (*domain.Identity, error) {
	if tokenString == "" {
		return nil, domain.ErrAuthentication.WithMessage("token is empty")
	}

	claims := &AccessClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrAuthentication.WithMessage("token is expired")
		}
		return nil, domain.ErrAuthentication.WithMessage("token is invalid")
	}

	if !token.Valid {
		return nil, domain.ErrAuthentication.WithMessage("token is invalid")
	}

	if claims.UserID == "" {
		return nil, domain.ErrAuthentication.WithMessage("token payload has no user id")
	}

	return &domain.Identity{
		UserID:    claims.UserID,
		Username:  claims.Username,
		Email:     claims.Email,
		Role:      claims.Role,
		AvatarURL: claims.AvatarURL,
	}, nil
}

// NewAccessToken mints a signed credential for the given identity. The
// gateway itself never mints tokens in production, this exists for tests
// and local tooling.
func NewAccessToken(identity *domain.Identity, secret string, ttl time.Duration) (string, error) {
	claims := &AccessClaims{
		UserID:    identity.UserID,
		Username:  identity.Username,
		Email:     identity.Email,
		Role:      identity.Role,
		AvatarURL: identity.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ExtractBearer pulls the raw token out of an Authorization header. Used by
// the HTTP producer routes, which authenticate with a bearer token instead
// of the handshake cookie.
func ExtractBearer(authHeader string) (string, error) {
	if authHeader == "" {
		return "", domain.ErrAuthentication.WithMessage("authorization header is empty")
	}

	if len(authHeader) < len(bearerPrefix) || authHeader[:len(bearerPrefix)] != bearerPrefix {
		return "", domain.ErrAuthentication.WithMessage("invalid authorization format, forgot 'Bearer '?")
	}
	return authHeader[len(bearerPrefix):], nil
}
