package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vidrelay/internal/core/ports"
	"vidrelay/internal/infrastructure/monitoring"
	"vidrelay/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readyTimeout = 2 * time.Second

// AdminHandler serves the read-only admin API of a running pipeline.
type AdminHandler struct {
	pipeline  ports.PipelineService
	health    *monitoring.HealthChecker
	metrics   http.Handler
	startTime time.Time
}

// NewAdminHandler builds the handler. A nil gatherer leaves /metrics out.
func NewAdminHandler(pipeline ports.PipelineService, health *monitoring.HealthChecker, gatherer prometheus.Gatherer) *AdminHandler {
	h := &AdminHandler{
		pipeline:  pipeline,
		health:    health,
		startTime: time.Now(),
	}
	if gatherer != nil {
		h.metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return h
}

func (h *AdminHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/stats", h.Stats)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}
}

// Health is the liveness probe: the pipeline tasks are running.
func (h *AdminHandler) Health(c *gin.Context) {
	if !h.pipeline.Stats().Running {
		_ = c.Error(errors.New(errors.ErrCodeStopped, "supervisor", "pipeline is not running"))
		return
	}
	uptime := time.Since(h.startTime)
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"timestamp":      time.Now(),
		"uptime":         formatUptime(uptime),
		"uptime_seconds": int64(uptime.Seconds()),
	})
}

// formatUptime renders whole seconds, dropping leading zero units:
// "42s", "3m07s", "5h03m07s", "2d05h03m".
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	days, secs := secs/86400, secs%86400
	hours, secs := secs/3600, secs%3600
	mins, secs := secs/60, secs%60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd%02dh%02dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh%02dm%02ds", hours, mins, secs)
	case mins > 0:
		return fmt.Sprintf("%dm%02ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// Ready runs the registered checks: both connections up and packets
// flowing.
func (h *AdminHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	status := h.health.CheckAll(ctx)
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *AdminHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.pipeline.Stats())
}
