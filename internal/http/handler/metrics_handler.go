package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/funcx-faas/action-provider/internal/metrics"
)

type MetricsHandler struct {
	rec    metrics.Recorder
	logger *slog.Logger
}

func NewMetricsHandler(rec metrics.Recorder) *MetricsHandler {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &MetricsHandler{rec: rec, logger: slog.Default().With("component", "http.metrics")}
}

// GET /api/v1/metrics
func (h *MetricsHandler) GetActionMetrics(c *gin.Context) {
	snap, err := h.rec.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to get action metrics", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": snap, "count": len(snap)})
}
