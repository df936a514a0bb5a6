package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveAdmin(t *testing.T, secret, header string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/admin/patients/x", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	called := false
	AdminJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := AdminClaimsFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "recepcao", claims.Subject)
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	return rec, called
}

func signedAdminToken(t *testing.T, secret string, method jwt.SigningMethod, expires *jwt.NumericDate) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{Subject: "recepcao", ExpiresAt: expires})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAdminJWT(t *testing.T) {
	valid := jwt.NewNumericDate(time.Now().Add(5 * time.Minute))

	tests := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"disabled without secret", "", "Bearer x", http.StatusUnauthorized},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"not bearer", "secret", "Basic abc", http.StatusUnauthorized},
		{"wrong key", "secret", "Bearer " + signedAdminToken(t, "other", jwt.SigningMethodHS256, valid), http.StatusUnauthorized},
		{"other hmac alg", "secret", "Bearer " + signedAdminToken(t, "secret", jwt.SigningMethodHS512, valid), http.StatusUnauthorized},
		{"no expiry", "secret", "Bearer " + signedAdminToken(t, "secret", jwt.SigningMethodHS256, nil), http.StatusUnauthorized},
		{"expired", "secret", "Bearer " + signedAdminToken(t, "secret", jwt.SigningMethodHS256, jwt.NewNumericDate(time.Now().Add(-time.Minute))), http.StatusUnauthorized},
		{"empty bearer", "secret", "Bearer   ", http.StatusUnauthorized},
		{"valid", "secret", "Bearer " + signedAdminToken(t, "secret", jwt.SigningMethodHS256, valid), http.StatusOK},
		{"lowercase scheme", "secret", "bearer " + signedAdminToken(t, "secret", jwt.SigningMethodHS256, valid), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, called := serveAdmin(t, tt.secret, tt.header)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.want == http.StatusOK, called)
		})
	}
}

func TestAdminActor(t *testing.T) {
	assert.Equal(t, UnknownActor, AdminActor(context.Background()))

	ctx := context.WithValue(context.Background(), staffClaimsKey{}, jwt.RegisteredClaims{Subject: " recepcao "})
	assert.Equal(t, "recepcao", AdminActor(ctx))

	ctx = context.WithValue(context.Background(), staffClaimsKey{}, jwt.RegisteredClaims{})
	assert.Equal(t, UnknownActor, AdminActor(ctx))
}
