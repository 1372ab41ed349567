package classify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/internal/metrics"
	"github.com/BaSui01/patentflow/internal/state"
	"github.com/BaSui01/patentflow/llm"
	"github.com/BaSui01/patentflow/taxonomy"
)

// ===== 🎯 重试策略 =====
//
// 限流与上游抖动按统一策略重试；解析失败不重试，直接落哨兵结果。
// 单行任务失败从不中止同批的其他行。
const (
	maxAttempts = 12
	baseBackoff = 5 * time.Second
	maxBackoff  = 10 * time.Second
	rowDeadline = 5 * time.Minute
)

// caller 封装带退避的单次 LLM 调用，分类与两类评估 Worker 共用。
type caller struct {
	metrics *metrics.Collector
	logger  *zap.Logger
}

// complete 发起一次补全并在可重试错误上退避重试。
// 上游给出 RetryAfter 时优先遵守，否则按 baseBackoff 指数退避、
// 封顶 maxBackoff。整行受 rowDeadline 约束。
func (c caller) complete(ctx context.Context, provider llm.Provider, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, rowDeadline)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		resp, err := provider.Completion(ctx, &llm.ChatRequest{
			Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		})
		c.metrics.ObserveCompletion(provider.Name(), time.Since(start), err)
		if err == nil {
			return resp.Text(), nil
		}
		lastErr = err

		var llmErr *llm.Error
		if !errors.As(err, &llmErr) || !llmErr.Retryable {
			return "", err
		}

		wait := retryWait(attempt, llmErr.RetryAfter)
		c.logger.Warn("LLM 호출 재시도",
			zap.String("provider", provider.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("code", string(llmErr.Code)),
		)
		c.metrics.IncRetry(provider.Name())

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}

// retryWait 计算第 attempt 次失败后的等待时间。
func retryWait(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Classifier 处理单行分类任务。
type Classifier struct {
	caller
	state *state.Store
}

// NewClassifier 创建分类 Worker。
func NewClassifier(st *state.Store, collector *metrics.Collector, logger *zap.Logger) *Classifier {
	return &Classifier{
		caller: caller{metrics: collector, logger: logger},
		state:  st,
	}
}

// ClassifyRow 对一行特许执行检索增强分类。
// 任何失败（空行、检索失败、终端 LLM 错误、解析失败）都降级为
// 哨兵结果返回，绝不向上传播错误 —— 行级失败不影响同批其他行。
func (c *Classifier) ClassifyRow(ctx context.Context, provider llm.Provider, idx *taxonomy.Index, row PatentRow) Classification {
	if row.Empty() {
		return UnclassifiedResult(row.ApplicationNumber)
	}

	entries, err := idx.Search(ctx, row.Text(), retrievalTopK)
	if err != nil {
		c.logger.Warn("분류 검색 실패",
			zap.String("applicationNumber", row.ApplicationNumber),
			zap.Error(err),
		)
		return UnclassifiedResult(row.ApplicationNumber)
	}

	raw, err := c.complete(ctx, provider, buildClassifyPrompt(entries, row.Text()))
	if err != nil {
		c.logger.Warn("분류 호출 실패",
			zap.String("provider", provider.Name()),
			zap.String("applicationNumber", row.ApplicationNumber),
			zap.Error(err),
		)
		c.metrics.IncRow(provider.Name(), "unclassified")
		return UnclassifiedResult(row.ApplicationNumber)
	}

	// 解析失败不重试
	parsed, err := ParseClassification(raw, row.ApplicationNumber)
	if err != nil {
		c.logger.Warn("분류 응답 파싱 실패",
			zap.String("provider", provider.Name()),
			zap.String("applicationNumber", row.ApplicationNumber),
			zap.Error(err),
		)
		c.metrics.IncRow(provider.Name(), "unclassified")
		return UnclassifiedResult(row.ApplicationNumber)
	}

	result := parsed.Normalize()
	if result.IsUnclassified() {
		c.metrics.IncRow(provider.Name(), "unclassified")
	} else {
		c.metrics.IncRow(provider.Name(), "classified")
	}
	return result
}

// ClassifyAndAdvance 是仅分类模式下的单行任务体：分类、
// 把结果推入 session 级结果列表、推进进度计数器。
// 成功行恰好推进一次进度。
func (c *Classifier) ClassifyAndAdvance(ctx context.Context, provider llm.Provider, idx *taxonomy.Index, scope state.Scope, row PatentRow) Classification {
	result := c.ClassifyRow(ctx, provider, idx, row)

	payload, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("분류 결과 직렬화 실패", zap.Error(err))
		return result
	}
	if err := c.state.PushResult(ctx, scope.SessionID, string(payload)); err != nil {
		c.logger.Error("분류 결과 저장 실패", zap.Error(err))
	}
	if _, err := c.state.Advance(ctx, scope); err != nil {
		c.logger.Error("진행률 갱신 실패", zap.Error(err))
	}
	return result
}
