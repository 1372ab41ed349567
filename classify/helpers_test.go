package classify

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/internal/cache"
	"github.com/BaSui01/patentflow/internal/state"
	"github.com/BaSui01/patentflow/llm"
	"github.com/BaSui01/patentflow/llm/embedding"
	"github.com/BaSui01/patentflow/taxonomy"
)

// =============================================================================
// 🧪 测试基建：키워드 기반 가짜 임베더, 모의 Provider, miniredis
// =============================================================================

// fakeEmbedder 按关键词返回确定性向量，让近邻检索结果可预测。
type fakeEmbedder struct{}

func (fakeEmbedder) vector(text string) []float64 {
	switch {
	case strings.Contains(text, "무관"):
		return []float64{-1, 0, 0}
	case strings.Contains(text, "리튬"):
		return []float64{1, 0, 0}
	case strings.Contains(text, "배터리"):
		return []float64{0, 1, 0}
	default:
		return []float64{0, 0, 1}
	}
}

func (f fakeEmbedder) Embed(ctx context.Context, req *embedding.EmbeddingRequest) (*embedding.EmbeddingResponse, error) {
	resp := &embedding.EmbeddingResponse{Provider: f.Name()}
	for i, input := range req.Input {
		resp.Embeddings = append(resp.Embeddings, embedding.EmbeddingData{Index: i, Embedding: f.vector(input)})
	}
	return resp, nil
}

func (f fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return f.vector(query), nil
}

func (f fakeEmbedder) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	vectors := make([][]float64, len(documents))
	for i, doc := range documents {
		vectors[i] = f.vector(doc)
	}
	return vectors, nil
}

func (fakeEmbedder) Name() string    { return "fake" }
func (fakeEmbedder) Dimensions() int { return 3 }

// testTaxonomyItems 是 3 级分类体系 테스트 데이터。
func testTaxonomyItems() []taxonomy.Item {
	return []taxonomy.Item{
		{Code: "H01", Level: taxonomy.LevelMajor, Name: "전기", Description: "전기 기술"},
		{Code: "H01-01", Level: taxonomy.LevelMiddle, Name: "배터리", Description: "배터리 기술"},
		{Code: "H01-01-01", Level: taxonomy.LevelMinor, Name: "리튬전지", Description: "리튬 이온 전지"},
	}
}

func testIndex(t *testing.T) *taxonomy.Index {
	t.Helper()
	docs := taxonomy.BuildDocuments(testTaxonomyItems())
	idx, err := taxonomy.Build(context.Background(), docs, fakeEmbedder{})
	require.NoError(t, err)
	return idx
}

// validClassificationJSON 是模拟 Provider 返回的合法分类响应。
const validClassificationJSON = `{"majorCode": "H01", "majorTitle": "전기", "middleCode": "H01-01", "middleTitle": "배터리", "smallCode": "H01-01-01", "smallTitle": "리튬전지"}`

// mockProvider 按脚本响应 Completion 调用。
type mockProvider struct {
	name     string
	calls    atomic.Int64
	response func(call int64, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

func (m *mockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	call := m.calls.Add(1)
	return m.response(call, req)
}

func (m *mockProvider) Name() string {
	if m.name == "" {
		return "MOCK"
	}
	return m.name
}

func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: text}}},
	}
}

func alwaysRespond(text string) *mockProvider {
	return &mockProvider{response: func(int64, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse(text), nil
	}}
}

func rateLimitError() *llm.Error {
	return &llm.Error{
		Code:       llm.ErrRateLimited,
		Message:    "rate limited",
		HTTPStatus: 429,
		Retryable:  true,
		RetryAfter: time.Millisecond,
	}
}

func setupState(t *testing.T) (*miniredis.Miniredis, *state.Store) {
	t.Helper()
	mr := miniredis.RunT(t)

	manager, err := cache.NewManager(cache.Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return mr, state.NewStore(manager, zap.NewNop())
}
