package http

import (
	"net/http"

	"vidrelay/internal/infrastructure/middleware"
	"vidrelay/pkg/config"
	"vidrelay/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter assembles the admin engine with the shared middleware stack.
func NewRouter(cfg *config.Config, handler *AdminHandler, log *zap.SugaredLogger) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.ErrorHandlerMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLogger(logger.NewContextLogger(log)),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)
	handler.SetupRoutes(router)
	return router
}

// NewServer wraps router in an http.Server with the configured timeouts.
func NewServer(cfg *config.Config, router http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Monitoring.Address,
		Handler:      router,
		ReadTimeout:  cfg.Monitoring.ReadTimeout,
		WriteTimeout: cfg.Monitoring.WriteTimeout,
	}
}
