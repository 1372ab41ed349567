// Package providers 包含各 LLM 厂商的 Provider 适配器。
// 每个适配器直接使用 net/http 调用厂商 API，并把厂商各自的限流信号
// 映射为统一的 *llm.Error（Retryable + RetryAfter），上层重试策略据此退避。
package providers

import (
	"io"
	"net/http"
	"strconv"
	"time"
)

// Config 是单个 Provider 适配器的通用配置。
type Config struct {
	APIKey  string        `yaml:"api_key" json:"api_key"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// parseRetryAfter 读取响应头中的 Retry-After。
// 只处理秒数形式（各 LLM 厂商均使用秒数而非 HTTP 日期），缺失或非法时返回 0。
func parseRetryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func readBody(body io.Reader) []byte {
	data, _ := io.ReadAll(body)
	return data
}

func chooseModel(requested, configured, fallback string) string {
	if requested != "" {
		return requested
	}
	if configured != "" {
		return configured
	}
	return fallback
}
