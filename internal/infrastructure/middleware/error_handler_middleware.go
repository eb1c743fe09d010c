package middleware

import (
	"net/http"

	"vidrelay/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps a pipeline error code onto the admin API response status.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeStopped, errors.ErrCodeOpen, errors.ErrCodeIO:
		return http.StatusServiceUnavailable
	case errors.ErrCodeConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandlerMiddleware turns errors attached to the gin context into JSON
// responses.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		if pe := errors.GetPipelineError(err); pe != nil {
			status := statusFor(pe.Code)
			logger.Errorw("pipeline error",
				"code", pe.Code,
				"stage", pe.Stage,
				"message", pe.Message,
				"status", status,
				"path", c.Request.URL.Path,
			)
			c.JSON(status, gin.H{
				"error":   string(pe.Code),
				"stage":   pe.Stage,
				"message": pe.Message,
				"details": pe.Context,
			})
			return
		}

		logger.Errorw("unhandled error",
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL",
			"message": "Internal server error",
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   "INTERNAL",
					"message": "Internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
