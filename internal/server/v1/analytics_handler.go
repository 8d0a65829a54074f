package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/llm-gateway-api/internal/analytics"
	"github.com/nulzo/llm-gateway-api/internal/core/domain"
)

type AnalyticsHandler struct {
	service analytics.Service
}

func NewAnalyticsHandler(service analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{
		service: service,
	}
}

func (h *AnalyticsHandler) GetUsage(c *gin.Context) {
	days, err := parseDays(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	stats, err := h.service.GetUsageOverview(c.Request.Context(), days)
	if err != nil {
		_ = c.Error(domain.InternalError("Failed to fetch analytics", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   stats,
	})
}

func (h *AnalyticsHandler) GetProviders(c *gin.Context) {
	days, err := parseDays(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	stats, err := h.service.GetProviderOverview(c.Request.Context(), days)
	if err != nil {
		_ = c.Error(domain.InternalError("Failed to fetch analytics", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   stats,
	})
}

func parseDays(c *gin.Context) (int, error) {
	daysStr := c.DefaultQuery("days", "7")
	days, err := strconv.Atoi(daysStr)
	if err != nil {
		return 0, domain.BadRequestError("Invalid 'days' parameter")
	}
	return days, nil
}
