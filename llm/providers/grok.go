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

// GrokProvider 实现 xAI Grok 的 LLM Provider。
// Grok 的 API 与 OpenAI 兼容，但限流信息更啰嗦：
// 429 响应带 Retry-After 与 X-RateLimit-*-Tokens 系列头，
// 适配器把这些头记入日志并取 Retry-After 作为退避时间。
type GrokProvider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewGrokProvider 创建 Grok Provider。
func NewGrokProvider(cfg Config, logger *zap.Logger) *GrokProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.x.ai"
	}
	return &GrokProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
		logger: logger,
	}
}

func (p *GrokProvider) Name() string { return "GROK" }

func (p *GrokProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	messages := make([]openaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openaiMessage{Role: string(m.Role), Content: m.Content})
	}

	body := openaiRequest{
		Model:       chooseModel(req.Model, p.cfg.Model, "grok-3"),
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}

	payload, _ := json.Marshal(body)
	endpoint := fmt.Sprintf("%s/v1/chat/completions", strings.TrimRight(p.cfg.BaseURL, "/"))

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
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

	var grokResp openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&grokResp); err != nil {
		return nil, &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   p.Name(),
		}
	}

	out := &llm.ChatResponse{
		ID:        grokResp.ID,
		Provider:  p.Name(),
		Model:     grokResp.Model,
		CreatedAt: time.Now(),
	}
	for _, c := range grokResp.Choices {
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      llm.Message{Role: llm.Role(c.Message.Role), Content: c.Message.Content},
		})
	}
	out.Usage = llm.ChatUsage{
		PromptTokens:     grokResp.Usage.PromptTokens,
		CompletionTokens: grokResp.Usage.CompletionTokens,
		TotalTokens:      grokResp.Usage.TotalTokens,
	}
	return out, nil
}

func (p *GrokProvider) mapError(resp *http.Response) *llm.Error {
	data := readBody(resp.Body)
	var errResp openaiErrorResp
	msg := string(data)
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp)
		// X-RateLimit 头只用于观察，退避时间以 Retry-After 为准
		p.logger.Info("Grok rate limit 발생",
			zap.Duration("retry_after", retryAfter),
			zap.String("limit_tokens", resp.Header.Get("X-RateLimit-Limit-Tokens")),
			zap.String("remaining_tokens", resp.Header.Get("X-RateLimit-Remaining-Tokens")),
			zap.String("reset_tokens", resp.Header.Get("X-RateLimit-Reset-Tokens")))
		return &llm.Error{
			Code:       llm.ErrRateLimited,
			Message:    msg,
			HTTPStatus: resp.StatusCode,
			Retryable:  true,
			RetryAfter: retryAfter,
			Provider:   p.Name(),
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &llm.Error{Code: llm.ErrUnauthorized, Message: msg, HTTPStatus: resp.StatusCode, Provider: p.Name()}
	case resp.StatusCode >= 500:
		return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: resp.StatusCode, Retryable: true, Provider: p.Name()}
	default:
		return &llm.Error{Code: llm.ErrInvalidRequest, Message: msg, HTTPStatus: resp.StatusCode, Provider: p.Name()}
	}
}
