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

// OpenAIProvider 实现 OpenAI Chat Completions 的 LLM Provider。
// OpenAI 的限流信号：HTTP 429，错误体 error.code == "rate_limit_exceeded"，
// 等待时间通过 Retry-After 响应头给出。
type OpenAIProvider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider 创建 OpenAI Provider。
func NewOpenAIProvider(cfg Config, logger *zap.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
		logger: logger,
	}
}

func (p *OpenAIProvider) Name() string { return "GPT" }

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	TopP        float32         `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		FinishReason string        `json:"finish_reason"`
		Message      openaiMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openaiErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (p *OpenAIProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	messages := make([]openaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openaiMessage{Role: string(m.Role), Content: m.Content})
	}

	body := openaiRequest{
		Model:       chooseModel(req.Model, p.cfg.Model, "gpt-4o"),
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

	var openaiResp openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   p.Name(),
		}
	}

	out := &llm.ChatResponse{
		ID:        openaiResp.ID,
		Provider:  p.Name(),
		Model:     openaiResp.Model,
		CreatedAt: time.Now(),
	}
	for _, c := range openaiResp.Choices {
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      llm.Message{Role: llm.Role(c.Message.Role), Content: c.Message.Content},
		})
	}
	out.Usage = llm.ChatUsage{
		PromptTokens:     openaiResp.Usage.PromptTokens,
		CompletionTokens: openaiResp.Usage.CompletionTokens,
		TotalTokens:      openaiResp.Usage.TotalTokens,
	}
	return out, nil
}

func (p *OpenAIProvider) mapError(resp *http.Response) *llm.Error {
	data := readBody(resp.Body)
	var errResp openaiErrorResp
	msg := string(data)
	code := ""
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
		code = errResp.Error.Code
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests && code == "insufficient_quota":
		return &llm.Error{Code: llm.ErrQuotaExceeded, Message: msg, HTTPStatus: resp.StatusCode, Provider: p.Name()}
	case resp.StatusCode == http.StatusTooManyRequests:
		// rate_limit_exceeded：Retry-After 头给出等待秒数
		retryAfter := parseRetryAfter(resp)
		p.logger.Info("OpenAI rate limit 발생",
			zap.Duration("retry_after", retryAfter))
		return &llm.Error{
			Code:       llm.ErrRateLimited,
			Message:    msg,
			HTTPStatus: resp.StatusCode,
			Retryable:  true,
			RetryAfter: retryAfter,
			Provider:   p.Name(),
		}
	case resp.StatusCode == http.StatusUnauthorized:
		return &llm.Error{Code: llm.ErrUnauthorized, Message: msg, HTTPStatus: resp.StatusCode, Provider: p.Name()}
	case resp.StatusCode >= 500:
		return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: resp.StatusCode, Retryable: true, Provider: p.Name()}
	default:
		return &llm.Error{Code: llm.ErrInvalidRequest, Message: msg, HTTPStatus: resp.StatusCode, Provider: p.Name()}
	}
}
