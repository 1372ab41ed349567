// Package handlers 实现 HTTP API。
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/llm"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteAccepted 写入异步受理响应
func WriteAccepted(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusAccepted, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage 写入错误响应
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string, logger *zap.Logger) {
	if logger != nil {
		logger.Warn("API error",
			zap.String("code", code),
			zap.String("message", message),
			zap.Int("status", status),
		)
	}
	WriteJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

// WriteLLMError 把统一 LLM 错误映射为 HTTP 响应
func WriteLLMError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		status := llmErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadGateway
		}
		WriteErrorMessage(w, status, string(llmErr.Code), llmErr.Message, logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, "INTERNAL", err.Error(), logger)
}

// DecodeJSONBody 解码请求体，失败时写入 400 响应并返回错误
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dest interface{}, logger *zap.Logger) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dest); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "INVALID_BODY", "요청 본문을 해석할 수 없습니다: "+err.Error(), logger)
		return err
	}
	return nil
}
