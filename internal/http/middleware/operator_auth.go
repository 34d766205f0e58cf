package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const operatorClaimsKey contextKey = "operatorClaims"

// OperatorScope must appear in the token's scope claim.
const OperatorScope = "clinic:operator"

// OperatorClaims are the claims accepted on operator endpoints.
type OperatorClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// HasScope reports whether the space-separated scope claim contains want.
func (c OperatorClaims) HasScope(want string) bool {
	for _, s := range strings.Fields(c.Scope) {
		if s == want {
			return true
		}
	}
	return false
}

// OperatorJWT enforces an HMAC-signed JWT carrying the operator scope. An empty
// secret disables the protected routes entirely.
func OperatorJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "operator auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			var claims OperatorClaims
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if !claims.HasScope(OperatorScope) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), operatorClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext returns the verified operator claims, if any.
func OperatorFromContext(ctx context.Context) (OperatorClaims, bool) {
	claims, ok := ctx.Value(operatorClaimsKey).(OperatorClaims)
	return claims, ok
}
