package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for missing, malformed, or expired tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Debug bypass credentials. Accepted only when the validator is constructed
// in debug mode; they exist to make integration testing tractable and must
// never be enabled in a production posture.
const (
	DebugToken   = "mock_token"
	DebugSubject = "test_user_1"
)

// TokenValidator resolves a bearer token to the subject that owns it.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// JWTValidator validates HS256 tokens issued by the auth service and extracts
// the subject claim.
type JWTValidator struct {
	secret    []byte
	debugMode bool
}

// NewJWTValidator creates a validator for tokens signed with secret.
// When debugMode is true the DebugToken bypass is accepted.
func NewJWTValidator(secret string, debugMode bool) *JWTValidator {
	return &JWTValidator{
		secret:    []byte(secret),
		debugMode: debugMode,
	}
}

// Validate resolves token to a subject id, or ErrInvalidToken.
func (v *JWTValidator) Validate(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	if v.debugMode && token == DebugToken {
		return DebugSubject, nil
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Generate issues a token for subject. Used by the development token endpoint
// and by tests; production tokens come from the auth service.
func (v *JWTValidator) Generate(subject string, ttl time.Duration) (string, error) {
	claims := &jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// ExtractToken pulls the bearer token from the Authorization header, falling
// back to the token query parameter (the form WebSocket clients use).
func ExtractToken(r *http.Request) string {
	const bearerPrefix = "Bearer "
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimPrefix(h, bearerPrefix)
	}
	return r.URL.Query().Get("token")
}

// Middleware guards HTTP endpoints: it validates the request token and puts
// the resolved subject into the request context.
func Middleware(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := v.Validate(ExtractToken(r))
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}
