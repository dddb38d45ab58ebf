package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const TerminalIDKey contextKey = "terminal_id"

// Claims identify the POS terminal issuing the request.
type Claims struct {
	TerminalID string `json:"terminal_id"`
	jwt.RegisteredClaims
}

// RequireAuth accepts only HS256 bearer tokens signed with jwtSecret.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeMiddlewareError(w, http.StatusUnauthorized, "missing authorization header", "auth_required")
				return
			}

			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				writeMiddlewareError(w, http.StatusUnauthorized, "invalid authorization scheme", "auth_invalid_scheme")
				return
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				writeMiddlewareError(w, http.StatusUnauthorized, "invalid token", "auth_invalid")
				return
			}

			terminal := claims.TerminalID
			if terminal == "" {
				terminal = claims.Subject
			}
			ctx := context.WithValue(r.Context(), TerminalIDKey, terminal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTerminalID returns the authenticated terminal, if any.
func GetTerminalID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(TerminalIDKey).(string)
	return id, ok && id != ""
}
