package middleware

import (
	"time"

	"vidrelay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger tags each request with an id, echoes it back and logs the
// outcome at debug level.
func RequestLogger(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		ctx := logger.WithSession(logger.WithStage(c.Request.Context(), "admin"), id)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		cl.WithContext(ctx).Debugw("request served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
