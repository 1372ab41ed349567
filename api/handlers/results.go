package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/patentflow/classify"
	"github.com/BaSui01/patentflow/internal/cache"
	"github.com/BaSui01/patentflow/internal/database"
	"github.com/BaSui01/patentflow/internal/state"
	"github.com/BaSui01/patentflow/llm"
)

// ResultsHandler 提供结果查询：行级记录、汇总分数、xlsx 产物、优胜 LLM。
type ResultsHandler struct {
	state     *state.Store
	artifacts *classify.ArtifactWriter
	best      *database.Store
	registry  *llm.Registry
	logger    *zap.Logger
}

// NewResultsHandler 创建结果处理器
func NewResultsHandler(
	st *state.Store,
	artifacts *classify.ArtifactWriter,
	best *database.Store,
	registry *llm.Registry,
	logger *zap.Logger,
) *ResultsHandler {
	return &ResultsHandler{
		state:     st,
		artifacts: artifacts,
		best:      best,
		registry:  registry,
		logger:    logger,
	}
}

func scopeFromRequest(r *http.Request) state.Scope {
	return state.Scope{
		SessionID: r.PathValue("id"),
		LLM:       strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("llm"))),
	}
}

// HandleResults 返回一条管线的行级结果
// GET /api/sessions/{id}/results?llm=GPT
// llm 생략 시 仅分类模式의 session 级 결과를 반환한다。
func (h *ResultsHandler) HandleResults(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromRequest(r)

	var raw []string
	var err error
	if scope.LLM == "" {
		raw, err = h.state.Results(r.Context(), scope.SessionID)
	} else {
		raw, err = h.state.Patents(r.Context(), scope)
	}
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, "RESULTS_FAILED", err.Error(), h.logger)
		return
	}

	records := make([]json.RawMessage, 0, len(raw))
	for _, item := range raw {
		records = append(records, json.RawMessage(item))
	}
	WriteSuccess(w, map[string]interface{}{
		"sessionId": scope.SessionID,
		"llm":       scope.LLM,
		"results":   records,
	})
}

// HandleSummary 返回汇总评估分数
// GET /api/sessions/{id}/summary?llm=GPT
// llm 생략 시 전체 LLM의 요약을 모아 반환한다（미완료 관선은 건너뜀）。
func (h *ResultsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromRequest(r)

	if scope.LLM != "" {
		raw, err := h.state.Summary(r.Context(), scope)
		if cache.IsCacheMiss(err) {
			WriteErrorMessage(w, http.StatusNotFound, "NO_SUMMARY", "아직 요약이 없습니다.", h.logger)
			return
		}
		if err != nil {
			WriteErrorMessage(w, http.StatusInternalServerError, "SUMMARY_FAILED", err.Error(), h.logger)
			return
		}
		WriteSuccess(w, map[string]interface{}{
			"sessionId": scope.SessionID,
			"llm":       scope.LLM,
			"summary":   json.RawMessage(raw),
		})
		return
	}

	summaries := make(map[string]json.RawMessage)
	for _, name := range h.registry.Names() {
		raw, err := h.state.Summary(r.Context(), state.Scope{SessionID: scope.SessionID, LLM: name})
		if cache.IsCacheMiss(err) {
			continue
		}
		if err != nil {
			WriteErrorMessage(w, http.StatusInternalServerError, "SUMMARY_FAILED", err.Error(), h.logger)
			return
		}
		summaries[name] = json.RawMessage(raw)
	}
	WriteSuccess(w, map[string]interface{}{
		"sessionId": scope.SessionID,
		"summaries": summaries,
	})
}

// HandleArtifact 下载分类结果 xlsx
// GET /api/sessions/{id}/artifact?llm=GPT
// 파일은 파이프라인 마무리 단계에서만 생성된다；아직 없으면 404。
func (h *ResultsHandler) HandleArtifact(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromRequest(r)

	path := h.artifacts.Path(scope.Key())
	if _, err := os.Stat(path); err != nil {
		WriteErrorMessage(w, http.StatusNotFound, "NO_ARTIFACT", "아직 결과 파일이 없습니다.", h.logger)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+scope.SessionID+`_classified.xlsx"`)
	http.ServeFile(w, r, path)
}

// HandleComputeBest 汇总各 LLM 的评估分数，判定并持久化优胜 LLM
// POST /api/sessions/{id}/best
func (h *ResultsHandler) HandleComputeBest(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var winner *database.BestLLMRecord
	for _, name := range h.registry.Names() {
		raw, err := h.state.Summary(r.Context(), state.Scope{SessionID: sessionID, LLM: name})
		if cache.IsCacheMiss(err) {
			continue
		}
		if err != nil {
			WriteErrorMessage(w, http.StatusInternalServerError, "BEST_FAILED", err.Error(), h.logger)
			return
		}
		var summary classify.Summary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			continue
		}
		combined := summary.VectorAccuracy + summary.ReasoningScore
		if winner == nil || combined > winner.CombinedScore {
			winner = &database.BestLLMRecord{
				SessionID:      sessionID,
				LLMName:        name,
				VectorAccuracy: summary.VectorAccuracy,
				ReasoningScore: summary.ReasoningScore,
				CombinedScore:  combined,
			}
		}
	}
	if winner == nil {
		WriteErrorMessage(w, http.StatusNotFound, "NO_SUMMARY", "평가가 완료된 LLM이 없습니다.", h.logger)
		return
	}

	if err := h.best.Save(r.Context(), winner); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, "BEST_FAILED", err.Error(), h.logger)
		return
	}
	WriteSuccess(w, winner)
}

// HandleBest 返回会话的优胜 LLM 记录
// GET /api/sessions/{id}/best
func (h *ResultsHandler) HandleBest(w http.ResponseWriter, r *http.Request) {
	record, err := h.best.BySession(r.Context(), r.PathValue("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		WriteErrorMessage(w, http.StatusNotFound, "NO_BEST", "아직 판정이 없습니다.", h.logger)
		return
	}
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, "BEST_FAILED", err.Error(), h.logger)
		return
	}
	WriteSuccess(w, record)
}

// HandleRecentBest 返回最近会话的优胜记录
// GET /api/best?limit=20
func (h *ResultsHandler) HandleRecentBest(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.best.Recent(r.Context(), limit)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, "BEST_FAILED", err.Error(), h.logger)
		return
	}
	WriteSuccess(w, records)
}
