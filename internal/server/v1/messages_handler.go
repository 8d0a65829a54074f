package v1

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/llm-gateway-api/internal/core/domain"
	"github.com/nulzo/llm-gateway-api/internal/gateway"
	"github.com/nulzo/llm-gateway-api/internal/server/middleware"
	"github.com/nulzo/llm-gateway-api/internal/server/validator"
	"github.com/nulzo/llm-gateway-api/pkg/api"
)

// MessagesHandler serves the Anthropic-style messages endpoint. Dialect
// handling lives in the gateway service: same-dialect providers pass
// through, chat-dialect providers are converted.
type MessagesHandler struct {
	service gateway.Service
}

func NewMessagesHandler(service gateway.Service) *MessagesHandler {
	return &MessagesHandler{
		service: service,
	}
}

func (h *MessagesHandler) CreateMessage(c *gin.Context) {
	var req api.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(domain.ValidationError(validator.ParseValidationError(err)))
		return
	}

	meta := middleware.Meta(c)

	if req.Stream {
		h.handleStream(c, &req, meta)
		return
	}

	resp, err := h.service.Messages(c.Request.Context(), &req, meta)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *MessagesHandler) handleStream(c *gin.Context, req *api.MessagesRequest, meta gateway.RequestMeta) {
	streamChan, err := h.service.StreamMessages(c.Request.Context(), req, meta)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		result, ok := <-streamChan
		if !ok {
			return false
		}

		if result.Err != nil {
			payload, _ := json.Marshal(gin.H{
				"type":  "error",
				"error": &api.ErrorResponse{Type: "api_error", Message: result.Err.Error()},
			})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
			return false
		}

		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", result.Event, result.Data)
		return true
	})
}
