package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/llm-gateway-api/internal/store"
	"github.com/nulzo/llm-gateway-api/pkg/api"
)

const clientKeyContextKey = "gateway.client_key"

// Auth extracts the client's credential from the request and, when the
// gateway is locked down, enforces it. A key is accepted when it is one
// of the static configured keys or when its hash matches an active
// issued key in the store. The extracted key is also what passthrough
// providers forward upstream.
func Auth(staticKeys []string, repo store.Repository) gin.HandlerFunc {
	staticMap := make(map[string]bool)
	for _, k := range staticKeys {
		staticMap[k] = true
	}

	return func(c *gin.Context) {
		key := extractKey(c)
		if key != "" {
			c.Set(clientKeyContextKey, key)
		}

		if len(staticMap) == 0 {
			c.Next()
			return
		}

		if staticMap[key] {
			c.Next()
			return
		}

		if repo != nil && key != "" {
			if issued, err := repo.APIKeys().GetByHash(c.Request.Context(), HashKey(key)); err == nil {
				// last_used is advisory, a failed update never blocks
				// the request.
				_ = repo.APIKeys().Touch(c.Request.Context(), issued.ID)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{Message: "Invalid API Key"})
	}
}

// ClientKey returns the credential the client sent, if any.
func ClientKey(c *gin.Context) string {
	key, _ := c.Value(clientKeyContextKey).(string)
	return key
}

// HashKey returns the stored form of a gateway key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func extractKey(c *gin.Context) string {
	if key := c.GetHeader("x-api-key"); key != "" {
		return key
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
