package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomul/pkg/api/handlers"
	"github.com/marmos91/dicomul/pkg/auth/jwt"
)

const testSecret = "middleware-test-secret-0123456789abcdef"

func TestJWTAuth(t *testing.T) {
	service, err := jwt.NewService(jwt.Config{Secret: testSecret})
	require.NoError(t, err)

	var seen *jwt.Claims
	handler := JWTAuth(service)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Claims(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, _, err := service.Issue("operator", "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"MissingHeader", "", http.StatusUnauthorized},
		{"WrongScheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"EmptyBearer", "Bearer ", http.StatusUnauthorized},
		{"InvalidToken", "Bearer not.a.token", http.StatusUnauthorized},
		{"ValidToken", "bearer " + token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, handlers.ContentTypeProblemJSON, w.Header().Get("Content-Type"))
				assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
				assert.Nil(t, seen)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, "operator", seen.Subject)
		})
	}
}

func TestClaims_Empty(t *testing.T) {
	assert.Nil(t, Claims(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
