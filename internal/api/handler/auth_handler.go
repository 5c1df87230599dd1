package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/martijn/snapkeep/internal/api/dto"
	"github.com/martijn/snapkeep/internal/core/service"
)

const grantClientCredentials = "client_credentials"

type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Token handles POST /auth/token. Body credentials win over Basic auth.
func (h *AuthHandler) Token(c *gin.Context) {
	var req dto.TokenRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.GrantType != grantClientCredentials {
		badRequest(c, "unsupported grant_type, only 'client_credentials' is accepted")
		return
	}

	if req.ClientID == "" && req.ClientSecret == "" {
		if id, secret, ok := c.Request.BasicAuth(); ok {
			req.ClientID, req.ClientSecret = id, secret
		}
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		badRequest(c, "client_id and client_secret are required")
		return
	}

	token, expiresAt, err := h.authService.AuthenticateClient(c.Request.Context(), req.ClientID, req.ClientSecret)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		abortWith(c, http.StatusUnauthorized, "Invalid client credentials")
		return
	case err != nil:
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, dto.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expiresAt).Round(time.Second).Seconds()),
	})
}
