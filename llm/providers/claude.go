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

// ClaudeProvider 实现 Anthropic Claude 的 LLM Provider。
// Claude API 与 OpenAI 有显著差异：
// 1. 认证使用 x-api-key 请求头而非 Bearer Token
// 2. system 消息单独传递
// 3. 限流信号是 429 + 错误体 error.type == "rate_limit_error"
type ClaudeProvider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewClaudeProvider 创建 Claude Provider。
func NewClaudeProvider(cfg Config, logger *zap.Logger) *ClaudeProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second // 推理评估的响应可能较慢
	}
	return &ClaudeProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
		logger: logger,
	}
}

func (p *ClaudeProvider) Name() string { return "CLAUDE" }

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float32         `json:"temperature,omitempty"`
	TopP        float32         `json:"top_p,omitempty"`
	StopSeq     []string        `json:"stop_sequences,omitempty"`
}

type claudeResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type claudeErrorResp struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *ClaudeProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	// system 消息需要单独提取到 system 字段
	var system string
	var messages []claudeMessage
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			system = m.Content
			continue
		}
		messages = append(messages, claudeMessage{Role: string(m.Role), Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096 // Claude 要求必须提供 max_tokens
	}

	body := claudeRequest{
		Model:       chooseModel(req.Model, p.cfg.Model, "claude-sonnet-4-20250514"),
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		StopSeq:     req.Stop,
	}

	payload, _ := json.Marshal(body)
	endpoint := fmt.Sprintf("%s/v1/messages", strings.TrimRight(p.cfg.BaseURL, "/"))

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
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

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   p.Name(),
		}
	}

	var text string
	for _, c := range claudeResp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	out := &llm.ChatResponse{
		ID:       claudeResp.ID,
		Provider: p.Name(),
		Model:    claudeResp.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: claudeResp.StopReason,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		}},
		CreatedAt: time.Now(),
	}
	if claudeResp.Usage != nil {
		out.Usage = llm.ChatUsage{
			PromptTokens:     claudeResp.Usage.InputTokens,
			CompletionTokens: claudeResp.Usage.OutputTokens,
			TotalTokens:      claudeResp.Usage.InputTokens + claudeResp.Usage.OutputTokens,
		}
	}
	return out, nil
}

func (p *ClaudeProvider) mapError(resp *http.Response) *llm.Error {
	data := readBody(resp.Body)
	var errResp claudeErrorResp
	msg := string(data)
	errType := ""
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
		errType = errResp.Error.Type
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || errType == "rate_limit_error":
		retryAfter := parseRetryAfter(resp)
		p.logger.Info("Claude rate limit 발생",
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
	case resp.StatusCode == http.StatusBadRequest && (strings.Contains(msg, "credit") || strings.Contains(msg, "quota")):
		return &llm.Error{Code: llm.ErrQuotaExceeded, Message: msg, HTTPStatus: resp.StatusCode, Provider: p.Name()}
	case resp.StatusCode == 529: // Claude 特有的过载状态码
		return &llm.Error{Code: llm.ErrRateLimited, Message: msg, HTTPStatus: resp.StatusCode, Retryable: true, Provider: p.Name()}
	case resp.StatusCode >= 500:
		return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: resp.StatusCode, Retryable: true, Provider: p.Name()}
	default:
		return &llm.Error{Code: llm.ErrInvalidRequest, Message: msg, HTTPStatus: resp.StatusCode, Provider: p.Name()}
	}
}
