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

type ChatHandler struct {
	service gateway.Service
}

func NewChatHandler(service gateway.Service) *ChatHandler {
	return &ChatHandler{
		service: service,
	}
}

func (h *ChatHandler) CreateCompletion(c *gin.Context) {
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// returns RFC compliant error
		_ = c.Error(domain.ValidationError(validator.ParseValidationError(err)))
		return
	}

	meta := middleware.Meta(c)

	// if we want to stream the response, roll down into streaming
	if req.Stream {
		h.handleStream(c, &req, meta)
		return
	}

	resp, err := h.service.Chat(c.Request.Context(), &req, meta)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) handleStream(c *gin.Context, req *api.ChatRequest, meta gateway.RequestMeta) {
	streamChan, err := h.service.StreamChat(c.Request.Context(), req, meta)
	if err != nil {
		_ = c.Error(err)
		return
	}

	// set headers for sse
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	// consume the channel and flush to http
	c.Stream(func(w io.Writer) bool {
		result, ok := <-streamChan
		if !ok {
			// channel is closed
			_, err := io.WriteString(w, "data: [DONE]\n\n")
			if err != nil {
				return false
			}
			return false
		}

		if result.Err != nil {
			errResp := api.ChatResponse{
				Choices: []api.Choice{{
					FinishReason: "error",
					Error:        &api.ErrorResponse{Message: result.Err.Error()},
				}},
			}
			data, _ := json.Marshal(errResp)
			_, err := fmt.Fprintf(w, "data: %s\n\n", data)
			if err != nil {
				return false
			}
			// if there's an error we will stop streaming
			return false
		}

		if result.Response != nil {
			data, err := json.Marshal(result.Response)
			if err == nil {
				_, err := fmt.Fprintf(w, "data: %s\n\n", data)
				return err == nil
			}
		}

		return true
	})
}
