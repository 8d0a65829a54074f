package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nulzo/llm-gateway-api/internal/gateway"
)

const requestIDContextKey = "gateway.request_id"

// Identity assigns every request a correlation id, honoring a
// client-supplied X-Request-ID when present.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDContextKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// Meta assembles the per-request dispatch metadata from headers set by
// Identity and Auth.
func Meta(c *gin.Context) gateway.RequestMeta {
	requestID, _ := c.Value(requestIDContextKey).(string)
	return gateway.RequestMeta{
		RequestID:      requestID,
		ConversationID: c.GetHeader("X-Conversation-ID"),
		Provider:       c.GetHeader("X-Provider"),
		ClientKey:      ClientKey(c),
	}
}
