package taxonomy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/internal/cache"
)

func setupAdapter(t *testing.T) *Adapter {
	t.Helper()
	mr := miniredis.RunT(t)

	manager, err := cache.NewManager(cache.Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return NewAdapter(manager, keywordEmbedder{}, t.TempDir(), zap.NewNop())
}

func TestAdapter_SaveAndLoad(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	idx, err := a.SaveForSession(ctx, "sess-1", sampleItems())
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	loaded, err := a.ForSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loaded.Len())

	best, err := loaded.Nearest(ctx, "리튬 이온")
	require.NoError(t, err)
	assert.Equal(t, "H01-01-01", best.Entry.Code)
}

func TestAdapter_UnknownSession(t *testing.T) {
	a := setupAdapter(t)

	_, err := a.ForSession(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

// 세션별 인덱스는 서로 간섭하지 않는다.
func TestAdapter_SessionIsolation(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	_, err := a.SaveForSession(ctx, "sess-1", sampleItems())
	require.NoError(t, err)

	_, err = a.ForSession(ctx, "sess-2")
	assert.ErrorIs(t, err, ErrIndexNotFound)
}
