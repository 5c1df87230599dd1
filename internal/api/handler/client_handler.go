package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/martijn/snapkeep/internal/api/dto"
	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/service"
)

type ClientHandler struct {
	authService *service.AuthService
}

func NewClientHandler(authService *service.AuthService) *ClientHandler {
	return &ClientHandler{
		authService: authService,
	}
}

// CreateClient handles POST /clients. The secret is only returned here.
func (h *ClientHandler) CreateClient(c *gin.Context) {
	var req dto.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Scopes == nil {
		req.Scopes = []string{domain.ScopeAll}
	}

	client, secret, err := h.authService.CreateClient(c.Request.Context(), req.Label, req.Scopes)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.ClientCreateResponse{
		ClientResponse: toClientResponse(client),
		Secret:         secret,
	})
}

// GetClient handles GET /clients/:id
func (h *ClientHandler) GetClient(c *gin.Context) {
	client, err := h.authService.GetClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toClientResponse(client))
}

// ListClients handles GET /clients
func (h *ClientHandler) ListClients(c *gin.Context) {
	clients, err := h.authService.ListClients(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	response := dto.ClientListResponse{Items: make([]dto.ClientResponse, len(clients))}
	for i, client := range clients {
		response.Items[i] = toClientResponse(client)
	}
	c.JSON(http.StatusOK, response)
}

// UpdateClient handles PATCH /clients/:id
func (h *ClientHandler) UpdateClient(c *gin.Context) {
	var req dto.UpdateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	client, err := h.authService.UpdateClient(c.Request.Context(), c.Param("id"), req.Label, req.Scopes)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toClientResponse(client))
}

// DeleteClient handles DELETE /clients/:id
func (h *ClientHandler) DeleteClient(c *gin.Context) {
	if err := h.authService.DeleteClient(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
