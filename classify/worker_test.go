package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/internal/state"
	"github.com/BaSui01/patentflow/llm"
)

func TestRetryWait(t *testing.T) {
	// 上游明确给出的等待时间优先
	assert.Equal(t, 7*time.Second, retryWait(1, 7*time.Second))

	// 指数退避：5s → 10s，封顶 10s
	assert.Equal(t, 5*time.Second, retryWait(1, 0))
	assert.Equal(t, 10*time.Second, retryWait(2, 0))
	assert.Equal(t, 10*time.Second, retryWait(3, 0))
	assert.Equal(t, 10*time.Second, retryWait(12, 0))
}

func TestClassifyRow_Success(t *testing.T) {
	idx := testIndex(t)
	provider := alwaysRespond(validClassificationJSON)
	c := NewClassifier(nil, nil, zap.NewNop())

	row := PatentRow{ApplicationNumber: "a-1", Title: "리튬전지", Abstract: "리튬 이온 전지"}
	result := c.ClassifyRow(context.Background(), provider, idx, row)

	assert.Equal(t, "a-1", result.ApplicationNumber)
	assert.Equal(t, "H01", result.MajorCode)
	assert.Equal(t, "H01-01-01", result.SmallCode)
	assert.False(t, result.IsUnclassified())
	assert.Equal(t, int64(1), provider.calls.Load())
}

func TestClassifyRow_EmptyRow(t *testing.T) {
	idx := testIndex(t)
	provider := alwaysRespond(validClassificationJSON)
	c := NewClassifier(nil, nil, zap.NewNop())

	result := c.ClassifyRow(context.Background(), provider, idx, PatentRow{ApplicationNumber: "a-1"})

	assert.True(t, result.IsUnclassified())
	assert.Equal(t, int64(0), provider.calls.Load(), "빈 행은 LLM을 호출하지 않는다")
}

// 限流错误重试后成功，最终恰好得到一个结果。
func TestClassifyRow_RateLimitRecovery(t *testing.T) {
	idx := testIndex(t)
	provider := &mockProvider{response: func(call int64, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		if call <= 2 {
			return nil, rateLimitError()
		}
		return textResponse(validClassificationJSON), nil
	}}
	c := NewClassifier(nil, nil, zap.NewNop())

	row := PatentRow{ApplicationNumber: "a-1", Title: "리튬전지", Abstract: "리튬"}
	result := c.ClassifyRow(context.Background(), provider, idx, row)

	assert.False(t, result.IsUnclassified())
	assert.Equal(t, int64(3), provider.calls.Load())
}

// 解析失败不重试：一次调用后直接落全哨兵结果。
func TestClassifyRow_ParseFailureNoRetry(t *testing.T) {
	idx := testIndex(t)
	provider := alwaysRespond("이 특허는 분류하기 어렵습니다")
	c := NewClassifier(nil, nil, zap.NewNop())

	row := PatentRow{ApplicationNumber: "a-1", Title: "리튬전지", Abstract: "리튬"}
	result := c.ClassifyRow(context.Background(), provider, idx, row)

	assert.True(t, result.IsUnclassified())
	assert.Equal(t, "a-1", result.ApplicationNumber)
	assert.Equal(t, int64(1), provider.calls.Load(), "파싱 실패는 재시도하지 않는다")
}

// 不可重试错误立即落哨兵，不消耗重试预算。
func TestClassifyRow_TerminalError(t *testing.T) {
	idx := testIndex(t)
	provider := &mockProvider{response: func(int64, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, &llm.Error{Code: llm.ErrUnauthorized, Message: "invalid key", HTTPStatus: 401}
	}}
	c := NewClassifier(nil, nil, zap.NewNop())

	row := PatentRow{ApplicationNumber: "a-1", Title: "리튬전지", Abstract: "리튬"}
	result := c.ClassifyRow(context.Background(), provider, idx, row)

	assert.True(t, result.IsUnclassified())
	assert.Equal(t, int64(1), provider.calls.Load())
}

func TestCaller_NonLLMErrorNotRetried(t *testing.T) {
	provider := &mockProvider{response: func(int64, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, errors.New("connection refused by proxy")
	}}
	c := caller{logger: zap.NewNop()}

	_, err := c.complete(context.Background(), provider, "prompt")
	require.Error(t, err)
	assert.Equal(t, int64(1), provider.calls.Load())
}

// 仅分类模式：结果推入 session 级列表，进度恰好 +1。
func TestClassifyAndAdvance(t *testing.T) {
	_, st := setupState(t)
	idx := testIndex(t)
	provider := alwaysRespond(validClassificationJSON)
	c := NewClassifier(st, nil, zap.NewNop())

	ctx := context.Background()
	scope := state.Scope{SessionID: "sess-1"}
	require.NoError(t, st.Begin(ctx, scope, 1))

	row := PatentRow{ApplicationNumber: "a-1", Title: "리튬전지", Abstract: "리튬"}
	result := c.ClassifyAndAdvance(ctx, provider, idx, scope, row)
	assert.False(t, result.IsUnclassified())

	results, err := st.Results(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, results, 1)

	counter, err := st.Counter(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter)
}
