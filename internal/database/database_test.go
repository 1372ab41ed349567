package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndBySession(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	record := &BestLLMRecord{
		SessionID:      "sess-1",
		LLMName:        "GPT",
		VectorAccuracy: 80,
		ReasoningScore: 70,
	}
	require.NoError(t, s.Save(ctx, record))
	assert.InDelta(t, 150.0, record.CombinedScore, 1e-9)

	got, err := s.BySession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "GPT", got.LLMName)
	assert.InDelta(t, 150.0, got.CombinedScore, 1e-9)
}

// 같은 세션의 재판정은 기존 레코드를 덮어쓴다.
func TestSave_UpsertBySession(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &BestLLMRecord{
		SessionID: "sess-1", LLMName: "GPT", VectorAccuracy: 80, ReasoningScore: 70,
	}))
	require.NoError(t, s.Save(ctx, &BestLLMRecord{
		SessionID: "sess-1", LLMName: "CLAUDE", VectorAccuracy: 90, ReasoningScore: 85,
	}))

	got, err := s.BySession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "CLAUDE", got.LLMName)
	assert.InDelta(t, 175.0, got.CombinedScore, 1e-9)

	records, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestBySession_NotFound(t *testing.T) {
	s := openStore(t)

	_, err := s.BySession(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		require.NoError(t, s.Save(ctx, &BestLLMRecord{SessionID: id, LLMName: "GPT"}))
	}

	records, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
