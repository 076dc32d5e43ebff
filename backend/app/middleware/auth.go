package middleware

import (
	"context"
	"net/http"
	"strings"

	jwtutil "fleet-steward/backend/app/jwt"
	"fleet-steward/backend/app/models"
)

type claimsKey struct{}

// GetClaims returns the token claims stored by RequireAdmin or RequireDevice.
func GetClaims(ctx context.Context) *jwtutil.Claims {
	c, _ := ctx.Value(claimsKey{}).(*jwtutil.Claims)
	return c
}

type Auth struct{ Signer *jwtutil.Signer }

func (a *Auth) claims(r *http.Request) (*jwtutil.Claims, bool) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return nil, false
	}
	claims, err := a.Signer.Parse(strings.TrimPrefix(authz, "Bearer "))
	if err != nil {
		return nil, false
	}
	return claims, true
}

func (a *Auth) require(next http.Handler, allow func(*jwtutil.Claims) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := a.claims(r)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !allow(claims) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return a.require(next, func(c *jwtutil.Claims) bool { return c.Role == models.RoleAdmin })
}

// RequireDevice admits tokens bound to a device id; handlers read the id from the claims.
func (a *Auth) RequireDevice(next http.Handler) http.Handler {
	return a.require(next, func(c *jwtutil.Claims) bool { return c.Role == models.RoleDevice && c.DeviceID != "" })
}
