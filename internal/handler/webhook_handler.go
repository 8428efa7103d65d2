package handler

import (
	"creditledger/internal/service"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// ProvisionUser handles the auth provider's user-created webhook. A
// redelivery answers 200 instead of 201.
// POST /webhooks/users
func (h *Handler) ProvisionUser(c *gin.Context) {
	var req service.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "user_id is required")
		return
	}

	result, err := h.userService.Provision(c.Request.Context(), &req)
	if err != nil {
		response.ServerError(c, err)
		return
	}
	if result.Created {
		response.Created(c, result)
		return
	}
	response.Success(c, result)
}
