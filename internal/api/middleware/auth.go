package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/martijn/snapkeep/internal/api/dto"
	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/service"
)

const (
	AuthHeaderKey  = "Authorization"
	AuthContextKey = "auth"
)

func deny(c *gin.Context, code int, message string) {
	if code == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Bearer realm="snapkeep"`)
	}
	c.AbortWithStatusJSON(code, dto.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}

// AuthMiddleware accepts "Authorization: Bearer <jwt>" issued by
// AuthService and stores the claims on the context.
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(AuthHeaderKey)
		if header == "" {
			deny(c, http.StatusUnauthorized, "Missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			deny(c, http.StatusUnauthorized, "Expected 'Bearer <token>' authorization")
			return
		}

		claims, err := authService.ValidateToken(strings.TrimSpace(token))
		if errors.Is(err, jwt.ErrTokenExpired) {
			deny(c, http.StatusUnauthorized, "Token has expired")
			return
		}
		if err != nil {
			deny(c, http.StatusUnauthorized, "Invalid token")
			return
		}

		c.Set(AuthContextKey, claims)
		c.Next()
	}
}

// RequireScope rejects tokens that carry neither scope nor "*". It must run
// after AuthMiddleware.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetAuthClaims(c)
		if !ok || !domain.HasScope(claims.Scopes, scope) {
			deny(c, http.StatusForbidden, "Token lacks the '"+scope+"' scope")
			return
		}
		c.Next()
	}
}

func GetAuthClaims(c *gin.Context) (*service.TokenClaims, bool) {
	v, ok := c.Get(AuthContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*service.TokenClaims)
	return claims, ok
}
