// Package middleware holds HTTP middleware for the status API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/marmos91/dicomul/internal/logger"
	"github.com/marmos91/dicomul/pkg/api/handlers"
	"github.com/marmos91/dicomul/pkg/auth/jwt"
)

type claimsKey struct{}

// Claims returns the identity claims JWTAuth stored on ctx, or nil.
func Claims(ctx context.Context) *jwt.Claims {
	c, _ := ctx.Value(claimsKey{}).(*jwt.Claims)
	return c
}

func bearer(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// JWTAuth requires a valid identity token in a Bearer Authorization
// header. Requests without one get a 401 problem response.
func JWTAuth(service *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearer(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="dicomul"`)
				handlers.Unauthorized(w, "bearer token required")
				return
			}

			claims, err := service.ValidateIdentity(token)
			if err != nil {
				logger.Debug("API token rejected", "remote_addr", r.RemoteAddr, logger.Err(err))
				w.Header().Set("WWW-Authenticate", `Bearer realm="dicomul", error="invalid_token"`)
				handlers.Unauthorized(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}
