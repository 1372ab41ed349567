package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/patentflow/llm"
	"go.uber.org/zap"
)

// GeminiProvider 实现 Google Gemini 的 LLM Provider。
// Gemini 的 API 结构自成一派：
// 1. 认证通过 x-goog-api-key 请求头
// 2. 消息是 contents/parts 结构，system 走 systemInstruction
// 3. 限流信号是 429 + 错误体 status == "RESOURCE_EXHAUSTED"，
//    等待时间藏在 RetryInfo detail 里（retryDelay，如 "7s"）
type GeminiProvider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewGeminiProvider 创建 Gemini Provider。
func NewGeminiProvider(cfg Config, logger *zap.Logger) *GeminiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	return &GeminiProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
		logger: logger,
	}
}

func (p *GeminiProvider) Name() string { return "GEMINI" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // user 或 model
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  *struct {
		Temperature     float32 `json:"temperature,omitempty"`
		TopP            float32 `json:"topP,omitempty"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"` // RESOURCE_EXHAUSTED 等
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay,omitempty"` // "7s" 形式
		} `json:"details"`
	} `json:"error"`
}

func (p *GeminiProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	var system *geminiContent
	var contents []geminiContent
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			system = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case llm.RoleAssistant:
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}

	body := geminiRequest{Contents: contents, SystemInstruction: system}
	if req.Temperature > 0 || req.TopP > 0 || req.MaxTokens > 0 {
		body.GenerationConfig = &struct {
			Temperature     float32 `json:"temperature,omitempty"`
			TopP            float32 `json:"topP,omitempty"`
			MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
		}{Temperature: req.Temperature, TopP: req.TopP, MaxOutputTokens: req.MaxTokens}
	}

	model := chooseModel(req.Model, p.cfg.Model, "gemini-2.0-flash")
	payload, _ := json.Marshal(body)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(p.cfg.BaseURL, "/"), model)

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	httpReq.Header.Set("x-goog-api-key", p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   p.Name(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, p.mapError(resp)
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   p.Name(),
		}
	}

	var text, finish string
	if len(geminiResp.Candidates) > 0 {
		finish = geminiResp.Candidates[0].FinishReason
		for _, part := range geminiResp.Candidates[0].Content.Parts {
			text += part.Text
		}
	}

	out := &llm.ChatResponse{
		Provider: p.Name(),
		Model:    model,
		Choices: []llm.ChatChoice{{
			FinishReason: finish,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		}},
		CreatedAt: time.Now(),
	}
	if geminiResp.UsageMetadata != nil {
		out.Usage = llm.ChatUsage{
			PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

func (p *GeminiProvider) mapError(resp *http.Response) *llm.Error {
	data := readBody(resp.Body)
	var errResp geminiErrorResp
	msg := string(data)
	status := ""
	retryAfter := time.Duration(0)
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
		status = errResp.Error.Status
		for _, d := range errResp.Error.Details {
			if d.RetryDelay != "" {
				if dur, perr := time.ParseDuration(d.RetryDelay); perr == nil {
					retryAfter = dur
				}
			}
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		p.logger.Info("Gemini rate limit 발생",
			zap.String("status", status),
			zap.Duration("retry_after", retryAfter))
		return &llm.Error{
			Code:       llm.ErrRateLimited,
			Message:    msg,
			HTTPStatus: resp.StatusCode,
			Retryable:  true,
			RetryAfter: retryAfter,
			Provider:   p.Name(),
		}
	case resp.StatusCode == http.StatusForbidden:
		return &llm.Error{Code: llm.ErrForbidden, Message: msg, HTTPStatus: resp.StatusCode, Provider: p.Name()}
	case resp.StatusCode >= 500:
		return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: resp.StatusCode, Retryable: true, Provider: p.Name()}
	default:
		return &llm.Error{Code: llm.ErrInvalidRequest, Message: msg, HTTPStatus: resp.StatusCode, Provider: p.Name()}
	}
}
