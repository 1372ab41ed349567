package classify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/internal/state"
	"github.com/BaSui01/patentflow/llm"
	"github.com/BaSui01/patentflow/taxonomy"
)

func classified() Classification {
	return Classification{
		ApplicationNumber: "a-1",
		MajorCode:         "H01", MajorTitle: "전기",
		MiddleCode: "H01-01", MiddleTitle: "배터리",
		SmallCode: "H01-01-01", SmallTitle: "리튬전지",
	}
}

func TestVectorVerdict(t *testing.T) {
	match := BestMatch{MajorCode: "H01", MiddleCode: "H01-01", SmallCode: "H01-01-01"}
	mismatch := BestMatch{MajorCode: "G06", MiddleCode: "G06-01", SmallCode: "G06-01-01"}

	tests := []struct {
		name       string
		c          Classification
		bm         BestMatch
		similarity float64
		correct    bool
	}{
		{"미분류 + 낮은 유사도는 정답", UnclassifiedResult("a-1"), match, 0.3, true},
		{"미분류 + 경계 유사도는 정답", UnclassifiedResult("a-1"), match, 0.5, true},
		{"미분류 + 높은 유사도는 오답", UnclassifiedResult("a-1"), match, 0.8, false},
		{"분류 + 낮은 유사도는 오답", classified(), match, 0.3, false},
		{"분류 + 코드 전체 일치는 정답", classified(), match, 0.9, true},
		{"분류 + 경계 유사도 + 일치는 정답", classified(), match, 0.5, true},
		{"분류 + 코드 불일치는 오답", classified(), mismatch, 0.9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := vectorVerdict(tt.c, tt.bm, tt.similarity)
			assert.Equal(t, tt.correct, verdict.IsCorrect)
			assert.NotEmpty(t, verdict.Reason)
		})
	}
}

func TestExpandBestMatch(t *testing.T) {
	minor := taxonomy.Entry{
		Code: "H01-01-01", Name: "리튬전지", Level: taxonomy.LevelMinor,
		ParentCode: "H01-01", ParentName: "배터리",
		GrandParentCode: "H01", GrandParentName: "전기",
	}
	bm := expandBestMatch(minor)
	assert.Equal(t, "H01", bm.MajorCode)
	assert.Equal(t, "H01-01", bm.MiddleCode)
	assert.Equal(t, "H01-01-01", bm.SmallCode)

	middle := taxonomy.Entry{
		Code: "H01-01", Name: "배터리", Level: taxonomy.LevelMiddle,
		ParentCode: "H01", ParentName: "전기",
	}
	bm = expandBestMatch(middle)
	assert.Equal(t, "H01", bm.MajorCode)
	assert.Equal(t, "H01-01", bm.MiddleCode)
	assert.Empty(t, bm.SmallCode)
}

func TestVectorEvaluator_StoresRecord(t *testing.T) {
	_, st := setupState(t)
	idx := testIndex(t)
	v := NewVectorEvaluator(st, zap.NewNop())

	ctx := context.Background()
	scope := state.Scope{SessionID: "sess-1", LLM: "MOCK"}
	row := PatentRow{ApplicationNumber: "a-1", Title: "리튬전지", Abstract: "리튬"}

	eval := v.Evaluate(ctx, idx, scope, row, classified())

	// 리튬 쿼리는 소분류 H01-01-01에 정확히 맞는다
	assert.InDelta(t, 1.0, eval.SimilarityScore, 1e-9)
	assert.True(t, eval.Evaluation.IsCorrect)
	assert.Equal(t, "H01-01-01", eval.BestMatch.SmallCode)

	raw, err := st.Classification(ctx, scope, "a-1")
	require.NoError(t, err)
	var stored VectorEvaluation
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, eval.Evaluation.IsCorrect, stored.Evaluation.IsCorrect)
	assert.Equal(t, "H01", stored.LLMClassification.MajorCode)
}

func TestVectorEvaluator_UnrelatedUnclassified(t *testing.T) {
	_, st := setupState(t)
	idx := testIndex(t)
	v := NewVectorEvaluator(st, zap.NewNop())

	scope := state.Scope{SessionID: "sess-1", LLM: "MOCK"}
	// 무관 쿼리의 최근접은 직교 벡터(중분류) → 정규화 유사도 0.5 경계값
	row := PatentRow{ApplicationNumber: "a-2", Title: "무관", Abstract: "무관 기술"}

	eval := v.Evaluate(context.Background(), idx, scope, row, UnclassifiedResult("a-2"))
	assert.InDelta(t, SimilarityThreshold, eval.SimilarityScore, 1e-9)
	assert.True(t, eval.Evaluation.IsCorrect)
}

func TestExtractScore(t *testing.T) {
	tests := []struct {
		text  string
		score float64
		ok    bool
	}{
		{"1. 분석: ...\n2. 점수: 1.0\n3. 이유: 적절함", 1.0, true},
		{"점수: 0.5", 0.5, true},
		{"Score: 0.0", 0.0, true},
		{"점수: 0.7", 0.7, true}, // 中间分值夹取后原样保留
		{"점수: 1.5", 1.0, true},
		{"점수: -2", 0.0, true},
		{"점수 없음", 0, false},
	}
	for _, tt := range tests {
		score, ok := extractScore(scoreRe, tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		if ok {
			assert.Equal(t, tt.score, score, tt.text)
		}
	}
}

func TestReasoningEvaluator_ParsesScoreAndReason(t *testing.T) {
	_, st := setupState(t)
	idx := testIndex(t)
	provider := alwaysRespond("1. 분석: 분류가 체계와 일치합니다.\n2. 점수: 1.0\n3. 이유: 추천 분류와 완전히 일치합니다.")
	r := NewReasoningEvaluator(st, nil, zap.NewNop())

	ctx := context.Background()
	scope := state.Scope{SessionID: "sess-1", LLM: "MOCK"}
	row := PatentRow{ApplicationNumber: "a-1", Title: "리튬전지", Abstract: "리튬"}

	eval := r.Evaluate(ctx, provider, idx, scope, row, classified())
	assert.Equal(t, 1.0, eval.Score)
	assert.Contains(t, eval.Reason, "추천 분류와 완전히 일치")

	raw, err := st.Reason(ctx, scope, "a-1")
	require.NoError(t, err)
	var stored ReasoningEvaluation
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, 1.0, stored.Score)
}

// 3 档之外的中间分值也直接采用，不触发复原调用。
func TestReasoningEvaluator_IntermediateScore(t *testing.T) {
	_, st := setupState(t)
	idx := testIndex(t)
	provider := &mockProvider{response: func(call int64, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return textResponse("점수: 0.7\n이유: 상위 분류는 맞지만 소분류가 다릅니다."), nil
	}}
	r := NewReasoningEvaluator(st, nil, zap.NewNop())

	scope := state.Scope{SessionID: "sess-1", LLM: "MOCK"}
	row := PatentRow{ApplicationNumber: "a-1", Title: "리튬전지", Abstract: "리튬"}

	eval := r.Evaluate(context.Background(), provider, idx, scope, row, classified())
	assert.Equal(t, 0.7, eval.Score)
	assert.Equal(t, int64(1), provider.calls.Load())
}

// 점수를 찾지 못하면 이유 텍스트로 복구 프롬프트를 보낸다.
func TestReasoningEvaluator_ScoreRecovery(t *testing.T) {
	_, st := setupState(t)
	idx := testIndex(t)
	provider := &mockProvider{response: func(call int64, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		if call == 1 {
			return textResponse("분석만 있고 숫자가 없는 응답. 이유: 부분적으로만 적절합니다."), nil
		}
		return textResponse("0.5"), nil
	}}
	r := NewReasoningEvaluator(st, nil, zap.NewNop())

	scope := state.Scope{SessionID: "sess-1", LLM: "MOCK"}
	row := PatentRow{ApplicationNumber: "a-1", Title: "리튬전지", Abstract: "리튬"}

	eval := r.Evaluate(context.Background(), provider, idx, scope, row, classified())
	assert.Equal(t, 0.5, eval.Score)
	assert.Equal(t, int64(2), provider.calls.Load())
}

// 복구까지 실패하면 기본 점수 0.5.
func TestReasoningEvaluator_DefaultScore(t *testing.T) {
	_, st := setupState(t)
	idx := testIndex(t)
	provider := alwaysRespond("숫자가 전혀 없는 응답")
	r := NewReasoningEvaluator(st, nil, zap.NewNop())

	scope := state.Scope{SessionID: "sess-1", LLM: "MOCK"}
	row := PatentRow{ApplicationNumber: "a-1", Title: "리튬전지", Abstract: "리튬"}

	eval := r.Evaluate(context.Background(), provider, idx, scope, row, classified())
	assert.Equal(t, defaultScore, eval.Score)
}
