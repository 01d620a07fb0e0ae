package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/beholdlabs/listings/internal/platform/errors"
)

// tokenIssuer identifies access tokens minted for this service.
const tokenIssuer = "listings"

type contextKey string

const callerKey contextKey = "caller_address"

// Verifier validates bearer access tokens and extracts the caller address
// from the token subject.
type Verifier struct {
	key []byte
	now func() time.Time
}

// NewVerifier creates a token verifier for the given HMAC signing key.
func NewVerifier(key []byte) (*Verifier, error) {
	if len(key) == 0 {
		return nil, errors.New("access token key is required")
	}
	return &Verifier{key: key, now: time.Now}, nil
}

// VerifyAccessToken validates a signed access token and returns the caller
// address carried in its subject claim.
func (v *Verifier) VerifyAccessToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperrors.New(apperrors.CodeUnauthenticated, "access token is required")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", mapJWTError(err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", apperrors.New(apperrors.CodeUnauthenticated, "access token subject is required")
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller address on the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			writeError(w, apperrors.New(apperrors.CodeUnauthenticated, "bearer token is required"))
			return
		}
		addr, err := v.VerifyAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), callerKey, addr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerAddress returns the authenticated caller address stored on the
// request context, or an empty string when the request is unauthenticated.
func CallerAddress(ctx context.Context) string {
	if addr, ok := ctx.Value(callerKey).(string); ok {
		return addr
	}
	return ""
}

// MintAccessToken signs an access token whose subject is the caller address.
func MintAccessToken(key []byte, address string, ttl time.Duration, now time.Time) (string, error) {
	if len(key) == 0 {
		return "", errors.New("access token key is required")
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.New("caller address is required")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   address,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.New(apperrors.CodeUnauthenticated, "access token is expired")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.New(apperrors.CodeUnauthenticated, "access token signature is invalid")
	default:
		return apperrors.New(apperrors.CodeUnauthenticated, "access token is invalid")
	}
}
