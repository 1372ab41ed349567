// Package api 组装 HTTP 路由。
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BaSui01/patentflow/api/handlers"
)

// Handlers 是路由需要的全部处理器。
type Handlers struct {
	Session  *handlers.SessionHandler
	Pipeline *handlers.PipelineHandler
	Progress *handlers.ProgressHandler
	Results  *handlers.ResultsHandler
	Health   *handlers.HealthHandler
}

// NewRouter 构建服务的全部路由。
func NewRouter(h Handlers, registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Health.HandleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /api/sessions", h.Session.HandleCreate)
	mux.HandleFunc("POST /api/sessions/{id}/taxonomy", h.Session.HandleSaveTaxonomy)
	mux.HandleFunc("POST /api/sessions/{id}/patents", h.Session.HandleUpload)

	mux.HandleFunc("POST /api/sessions/{id}/classify", h.Pipeline.HandleClassify)
	mux.HandleFunc("POST /api/sessions/{id}/classify/sync", h.Pipeline.HandleClassifySync)
	mux.HandleFunc("POST /api/sessions/{id}/evaluate", h.Pipeline.HandleEvaluate)

	mux.HandleFunc("GET /api/sessions/{id}/progress", h.Progress.HandleStream)
	mux.HandleFunc("GET /api/sessions/{id}/results", h.Results.HandleResults)
	mux.HandleFunc("GET /api/sessions/{id}/summary", h.Results.HandleSummary)
	mux.HandleFunc("GET /api/sessions/{id}/artifact", h.Results.HandleArtifact)

	mux.HandleFunc("POST /api/sessions/{id}/best", h.Results.HandleComputeBest)
	mux.HandleFunc("GET /api/sessions/{id}/best", h.Results.HandleBest)
	mux.HandleFunc("GET /api/best", h.Results.HandleRecentBest)

	return mux
}
