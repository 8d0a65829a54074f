package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/llm-gateway-api/internal/core/domain"
	"github.com/nulzo/llm-gateway-api/internal/platform/logger"
	"go.uber.org/zap"
)

// ErrorHandler translates errors attached by handlers into RFC 9457
// problem responses. Typed dispatch errors get their own status codes;
// anything unrecognized collapses to a 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var problem *domain.Problem
		if errors.As(err, &problem) {
			if problem.Log != nil {
				logger.Error("request failed", zap.Error(problem.Log))
			}
			// RFC 9457 dictates the json is at the root
			c.JSON(problem.Status, problem)
			c.Abort()
			return
		}

		if p := problemFor(err); p != nil {
			c.JSON(p.Status, p)
			c.Abort()
			return
		}

		logger.Error("unhandled request error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, domain.NewProblem(
			http.StatusInternalServerError,
			"Internal Server Error",
			"An unexpected error occurred.",
		))
		c.Abort()
	}
}

// problemFor maps the typed dispatch errors onto HTTP problems.
func problemFor(err error) *domain.Problem {
	var (
		circular   *domain.CircularAliasError
		notConfig  *domain.ProviderNotConfiguredError
		missingKey *domain.MissingClientKeyError
		exhausted  *domain.AllKeysExhaustedError
		apiErr     *domain.Error
	)

	switch {
	case errors.As(err, &circular):
		p := domain.NewProblem(http.StatusBadRequest, "Circular Alias", circular.Error())
		p.Extensions["model"] = circular.Model
		p.Extensions["path"] = circular.Path
		return p

	case errors.As(err, &notConfig):
		return domain.NewProblem(http.StatusNotFound, "Provider Not Configured", notConfig.Error())

	case errors.As(err, &missingKey):
		return domain.NewProblem(http.StatusUnauthorized, "Missing Client Key", missingKey.Error())

	case errors.As(err, &exhausted):
		p := domain.NewProblem(http.StatusBadGateway, "Provider Credentials Exhausted", exhausted.Error())
		p.Extensions["provider"] = exhausted.Provider
		return p

	case errors.As(err, &apiErr):
		if apiErr.Log != nil {
			logger.Error("request failed", zap.Error(apiErr.Log))
		}
		return domain.NewProblem(apiErr.Code, http.StatusText(apiErr.Code), apiErr.Message)
	}
	return nil
}
