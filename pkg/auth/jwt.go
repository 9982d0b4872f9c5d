package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type contextKey string

const UserKey contextKey = "user"

// Authenticator issues and verifies HS256 tokens with one shared secret.
type Authenticator struct {
	key []byte
	ttl time.Duration
}

func New(secret string) *Authenticator {
	return &Authenticator{key: []byte(secret), ttl: 24 * time.Hour}
}

// GenerateToken creates a new JWT token for a given user ID
func (a *Authenticator) GenerateToken(userID string) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.key)
}

// ValidateToken parses and validates a JWT token
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// TokenFromRequest reads a bearer token from the Authorization header, or
// from the token query parameter which websocket clients use instead.
func TokenFromRequest(r *http.Request) string {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	return strings.TrimPrefix(tokenString, "Bearer ")
}

// Middleware rejects requests without a valid token and stores the claims
// in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := TokenFromRequest(r)
		if tokenString == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		claims, err := a.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims)))
	})
}

func WithUser(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserKey, claims)
}

// UserFromContext returns the authenticated user id, or "" if none.
func UserFromContext(ctx context.Context) string {
	claims, ok := ctx.Value(UserKey).(*Claims)
	if !ok {
		return ""
	}
	return claims.UserID
}
