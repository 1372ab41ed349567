package classify

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/internal/state"
)

func testFinalizer(t *testing.T, st *state.Store) (*Finalizer, *ArtifactWriter) {
	t.Helper()
	artifacts, err := NewArtifactWriter(t.TempDir())
	require.NoError(t, err)
	return NewFinalizer(st, artifacts, zap.NewNop()), artifacts
}

func saveScratch(t *testing.T, st *state.Store, scope state.Scope, appNo string, correct bool, score float64) {
	t.Helper()
	ctx := context.Background()

	c := classified()
	c.ApplicationNumber = appNo
	vec, err := json.Marshal(VectorEvaluation{
		SimilarityScore:   0.9,
		Evaluation:        Verdict{IsCorrect: correct, Reason: "테스트 판정"},
		LLMClassification: c,
	})
	require.NoError(t, err)
	require.NoError(t, st.SaveClassification(ctx, scope, appNo, string(vec)))

	reason, err := json.Marshal(ReasoningEvaluation{Score: score, Reason: "테스트 이유"})
	require.NoError(t, err)
	require.NoError(t, st.SaveReason(ctx, scope, appNo, string(reason)))
}

func TestCompleteEvaluation(t *testing.T) {
	mr, st := setupState(t)
	ctx := context.Background()
	scope := state.Scope{SessionID: "sess-1", LLM: "GPT"}
	rows := []PatentRow{
		{ApplicationNumber: "a-1", Title: "리튬전지"},
		{ApplicationNumber: "a-2", Title: "배터리 팩"},
	}
	require.NoError(t, st.Begin(ctx, scope, int64(len(rows))))

	saveScratch(t, st, scope, "a-1", true, 1.0)
	saveScratch(t, st, scope, "a-2", false, 0.5)

	f, artifacts := testFinalizer(t, st)
	require.NoError(t, f.CompleteEvaluation(ctx, scope, rows))

	patents, err := st.Patents(ctx, scope)
	require.NoError(t, err)
	require.Len(t, patents, 2)

	var first EvaluatedPatent
	require.NoError(t, json.Unmarshal([]byte(patents[0]), &first))
	assert.Equal(t, "a-1", first.ApplicationNumber)
	assert.Equal(t, "리튬전지", first.Title)
	assert.Equal(t, "H01-01-01", first.SmallCode)
	assert.True(t, first.Evaluation.VectorBased.Evaluation.IsCorrect)
	assert.Equal(t, 1.0, first.Evaluation.Reasoning.Score)

	reasonings, err := st.Reasonings(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, reasonings, 2)

	raw, err := st.Summary(ctx, scope)
	require.NoError(t, err)
	var summary Summary
	require.NoError(t, json.Unmarshal([]byte(raw), &summary))
	assert.Equal(t, 2, summary.TotalPatents)
	assert.InDelta(t, 50.0, summary.VectorAccuracy, 1e-9)
	assert.InDelta(t, 75.0, summary.ReasoningScore, 1e-9)

	// 결과 파일은 마무리 단계에서 만들어진다
	data, err := os.ReadFile(artifacts.Path(scope.Key()))
	require.NoError(t, err)
	assert.Equal(t, "PK", string(data[:2]))

	// 임시 해시는 정리된다
	_, err = st.Classification(ctx, scope, "a-1")
	assert.Error(t, err)
	_, err = st.Reason(ctx, scope, "a-1")
	assert.Error(t, err)

	// 진행 채널 키에 완료 상태가 남는다
	payload, err := mr.Get(scope.ProgressChannel())
	require.NoError(t, err)
	var status state.StatusMessage
	require.NoError(t, json.Unmarshal([]byte(payload), &status))
	assert.Equal(t, state.StatusCompleted, status.Status)
}

// 한쪽 해시가 비어 있는 행은 건너뛰고 나머지로 집계한다.
func TestCompleteEvaluation_SkipsUnreconciledRow(t *testing.T) {
	_, st := setupState(t)
	ctx := context.Background()
	scope := state.Scope{SessionID: "sess-1", LLM: "GPT"}
	rows := []PatentRow{
		{ApplicationNumber: "a-1", Title: "리튬전지"},
		{ApplicationNumber: "a-2", Title: "배터리 팩"},
	}
	require.NoError(t, st.Begin(ctx, scope, int64(len(rows))))

	saveScratch(t, st, scope, "a-1", true, 1.0)
	// a-2 는 분류 쪽만 있고 이유가 없다
	c := classified()
	c.ApplicationNumber = "a-2"
	vec, err := json.Marshal(VectorEvaluation{LLMClassification: c})
	require.NoError(t, err)
	require.NoError(t, st.SaveClassification(ctx, scope, "a-2", string(vec)))

	f, _ := testFinalizer(t, st)
	require.NoError(t, f.CompleteEvaluation(ctx, scope, rows))

	patents, err := st.Patents(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, patents, 1)

	raw, err := st.Summary(ctx, scope)
	require.NoError(t, err)
	var summary Summary
	require.NoError(t, json.Unmarshal([]byte(raw), &summary))
	assert.Equal(t, 1, summary.TotalPatents)
	assert.InDelta(t, 100.0, summary.VectorAccuracy, 1e-9)
	assert.InDelta(t, 100.0, summary.ReasoningScore, 1e-9)
}

func TestCompleteEvaluation_NoReconciledRows(t *testing.T) {
	_, st := setupState(t)
	ctx := context.Background()
	scope := state.Scope{SessionID: "sess-1", LLM: "GPT"}
	rows := []PatentRow{{ApplicationNumber: "a-1", Title: "리튬전지"}}
	require.NoError(t, st.Begin(ctx, scope, 1))

	f, _ := testFinalizer(t, st)
	require.NoError(t, f.CompleteEvaluation(ctx, scope, rows))

	raw, err := st.Summary(ctx, scope)
	require.NoError(t, err)
	var summary Summary
	require.NoError(t, json.Unmarshal([]byte(raw), &summary))
	assert.Equal(t, 0, summary.TotalPatents)
	assert.Zero(t, summary.VectorAccuracy)
	assert.Zero(t, summary.ReasoningScore)
}

// 仅分类模式的收尾：裸分类记录回填원문 제목/초록、写出结果表。
func TestCompleteClassification(t *testing.T) {
	mr, st := setupState(t)
	ctx := context.Background()
	scope := state.Scope{SessionID: "sess-1"}
	rows := []PatentRow{
		{ApplicationNumber: "a-1", Title: "리튬전지", Abstract: "리튬 이온"},
		{ApplicationNumber: "a-2", Title: "배터리 팩", Abstract: "팩 구조"},
	}
	require.NoError(t, st.Begin(ctx, scope, int64(len(rows))))

	for _, appNo := range []string{"a-1", "a-2"} {
		c := classified()
		c.ApplicationNumber = appNo
		payload, err := json.Marshal(c)
		require.NoError(t, err)
		require.NoError(t, st.PushResult(ctx, scope.SessionID, string(payload)))
	}

	f, artifacts := testFinalizer(t, st)
	require.NoError(t, f.CompleteClassification(ctx, scope, rows))

	results, err := st.Results(ctx, scope.SessionID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	var first Patent
	require.NoError(t, json.Unmarshal([]byte(results[0]), &first))
	assert.Equal(t, "a-1", first.ApplicationNumber)
	assert.Equal(t, "리튬전지", first.Title)
	assert.Equal(t, "리튬 이온", first.Abstract)
	assert.Equal(t, "H01-01-01", first.SmallCode)

	data, err := os.ReadFile(artifacts.Path(scope.Key()))
	require.NoError(t, err)
	assert.Equal(t, "PK", string(data[:2]))

	payload, err := mr.Get(scope.ProgressChannel())
	require.NoError(t, err)
	var status state.StatusMessage
	require.NoError(t, json.Unmarshal([]byte(payload), &status))
	assert.Equal(t, state.StatusCompleted, status.Status)
}

// 결과 레코드가 없는 행은 건너뛰고 나머지만 남긴다.
func TestCompleteClassification_SkipsMissingRow(t *testing.T) {
	_, st := setupState(t)
	ctx := context.Background()
	scope := state.Scope{SessionID: "sess-1"}
	rows := []PatentRow{
		{ApplicationNumber: "a-1", Title: "리튬전지"},
		{ApplicationNumber: "a-2", Title: "배터리 팩"},
	}
	require.NoError(t, st.Begin(ctx, scope, int64(len(rows))))

	c := classified()
	c.ApplicationNumber = "a-1"
	payload, err := json.Marshal(c)
	require.NoError(t, err)
	require.NoError(t, st.PushResult(ctx, scope.SessionID, string(payload)))

	f, _ := testFinalizer(t, st)
	require.NoError(t, f.CompleteClassification(ctx, scope, rows))

	results, err := st.Results(ctx, scope.SessionID)
	require.NoError(t, err)
	require.Len(t, results, 1)

	var remaining Patent
	require.NoError(t, json.Unmarshal([]byte(results[0]), &remaining))
	assert.Equal(t, "a-1", remaining.ApplicationNumber)
	assert.Equal(t, "리튬전지", remaining.Title)
}
