package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/internal/cache"
)

// HealthHandler 健康检查
type HealthHandler struct {
	cache   *cache.Manager
	version string
	logger  *zap.Logger
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(cacheManager *cache.Manager, version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cache: cacheManager, version: version, logger: logger}
}

// HandleHealth 返回服务与依赖的健康状态
// GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	overall := "healthy"
	redisStatus := "ok"
	status := http.StatusOK
	if err := h.cache.Ping(r.Context()); err != nil {
		h.logger.Warn("redis health check failed", zap.Error(err))
		overall = "degraded"
		redisStatus = "unreachable"
		status = http.StatusServiceUnavailable
	}

	WriteJSON(w, status, map[string]interface{}{
		"status":    overall,
		"version":   h.version,
		"redis":     redisStatus,
		"timestamp": time.Now(),
	})
}
