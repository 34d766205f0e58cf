package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func serveOperator(t *testing.T, secret, token string, next http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/reminders/failed", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	if next == nil {
		next = func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	}
	OperatorJWT(secret)(next).ServeHTTP(rec, req)
	return rec
}

func TestOperatorJWTRejects(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		token  string
		want   int
	}{
		{"auth disabled", "", signedOperatorToken(t, "secret", OperatorScope), http.StatusUnauthorized},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"wrong key", "secret", signedOperatorToken(t, "wrong", OperatorScope), http.StatusUnauthorized},
		{"missing scope", "secret", signedOperatorToken(t, "secret", "clinic:patient"), http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serveOperator(t, tc.secret, tc.token, nil)
			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestOperatorJWTValidToken(t *testing.T) {
	called := false
	rec := serveOperator(t, "secret", signedOperatorToken(t, "secret", "read "+OperatorScope), func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := OperatorFromContext(r.Context())
		if !ok || claims.Subject != "front-desk" {
			t.Fatalf("expected operator claims in context, got %+v", claims)
		}
		w.WriteHeader(http.StatusOK)
	})
	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func signedOperatorToken(t *testing.T, secret, scope string) string {
	t.Helper()
	claims := OperatorClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "front-desk",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
