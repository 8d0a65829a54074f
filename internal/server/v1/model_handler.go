package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/llm-gateway-api/internal/gateway"
)

type ModelHandler struct {
	service gateway.Service
}

func NewModelHandler(service gateway.Service) *ModelHandler {
	return &ModelHandler{
		service: service,
	}
}

func (h *ModelHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.ListModels(c.Request.Context()))
}
