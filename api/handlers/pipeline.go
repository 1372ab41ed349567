package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/classify"
	"github.com/BaSui01/patentflow/llm"
)

// PipelineHandler 受理分类与评估管线的启动请求。
// 管线在后台 goroutine 里运行，请求方通过进度 SSE 跟踪。
type PipelineHandler struct {
	coordinator *classify.Coordinator
	registry    *llm.Registry
	logger      *zap.Logger
}

// NewPipelineHandler 创建管线处理器
func NewPipelineHandler(coordinator *classify.Coordinator, registry *llm.Registry, logger *zap.Logger) *PipelineHandler {
	return &PipelineHandler{coordinator: coordinator, registry: registry, logger: logger}
}

type evaluateRequest struct {
	LLMs []string `json:"llms"`
}

type classifyRequest struct {
	LLM string `json:"llm"`
}

// HandleEvaluate 启动多 LLM 评估管线
// POST /api/sessions/{id}/evaluate
func (h *PipelineHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req evaluateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.LLMs) == 0 {
		req.LLMs = h.registry.Names()
	}
	for _, name := range req.LLMs {
		if _, err := h.registry.ByName(name); err != nil {
			WriteErrorMessage(w, http.StatusBadRequest, "UNKNOWN_LLM", err.Error(), h.logger)
			return
		}
	}

	// 请求上下文随响应结束而取消，后台管线用独立上下文
	go func() {
		if err := h.coordinator.RunAllPipelines(context.Background(), sessionID, req.LLMs); err != nil {
			h.logger.Error("evaluation pipelines failed",
				zap.String("session", sessionID),
				zap.Error(err),
			)
		}
	}()

	WriteAccepted(w, map[string]interface{}{
		"sessionId": sessionID,
		"llms":      req.LLMs,
	})
}

// HandleClassify 启动仅分类管线
// POST /api/sessions/{id}/classify
func (h *PipelineHandler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req classifyRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if _, err := h.registry.ByName(req.LLM); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "UNKNOWN_LLM", err.Error(), h.logger)
		return
	}

	go func() {
		if err := h.coordinator.RunClassification(context.Background(), sessionID, req.LLM); err != nil {
			h.logger.Error("classification pipeline failed",
				zap.String("session", sessionID),
				zap.Error(err),
			)
		}
	}()

	WriteAccepted(w, map[string]interface{}{
		"sessionId": sessionID,
		"llm":       req.LLM,
	})
}

// HandleClassifySync 同步分类：每个 LLM 一个并发协程，阻塞到全部
// gather 汇合后按 LLM 返回各自的结果集。llms 생략 시 전체 LLM。
// POST /api/sessions/{id}/classify/sync
func (h *PipelineHandler) HandleClassifySync(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req evaluateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.LLMs) == 0 {
		req.LLMs = h.registry.Names()
	}

	results, err := h.coordinator.ClassifySync(r.Context(), sessionID, req.LLMs)
	if err != nil {
		WriteLLMError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"sessionId":       sessionID,
		"classifications": results,
	})
}
