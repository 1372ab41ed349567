package taxonomy

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/BaSui01/patentflow/internal/cache"
	"github.com/BaSui01/patentflow/llm/embedding"
	"go.uber.org/zap"
)

// 索引路径键与派生数据一致，保存后 24 小时过期。
const (
	pathKeyFormat = "vectorstore:%s:path"
	pathKeyTTL    = 24 * time.Hour
)

// Adapter 按 session 管理分类体系索引。
// 保存分类体系时构建一次并落盘，之后的所有分类调用按路径重新加载，
// 绝不重建。索引路径经由 Redis 共享，Worker 进程间无共享内存。
type Adapter struct {
	cache    *cache.Manager
	embedder embedding.Provider
	indexDir string
	logger   *zap.Logger
}

// NewAdapter 创建索引适配器。
func NewAdapter(cacheManager *cache.Manager, embedder embedding.Provider, indexDir string, logger *zap.Logger) *Adapter {
	return &Adapter{
		cache:    cacheManager,
		embedder: embedder,
		indexDir: indexDir,
		logger:   logger.With(zap.String("component", "taxonomy")),
	}
}

// SaveForSession 为 session 构建索引、落盘，并把路径写入 Redis。
func (a *Adapter) SaveForSession(ctx context.Context, sessionID string, items []Item) (*Index, error) {
	docs := BuildDocuments(items)
	idx, err := Build(ctx, docs, a.embedder)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(a.indexDir, sessionID)
	if err := idx.Save(dir); err != nil {
		return nil, fmt.Errorf("save taxonomy index: %w", err)
	}

	key := fmt.Sprintf(pathKeyFormat, sessionID)
	if err := a.cache.Set(ctx, key, dir, pathKeyTTL); err != nil {
		return nil, err
	}

	a.logger.Info("taxonomy index saved",
		zap.String("session_id", sessionID),
		zap.String("path", dir),
		zap.Int("documents", idx.Len()))
	return idx, nil
}

// ForSession 按 session 加载既有索引。
// 路径键缺失或文件不存在都视为"分类体系尚未保存"，返回 ErrIndexNotFound。
func (a *Adapter) ForSession(ctx context.Context, sessionID string) (*Index, error) {
	key := fmt.Sprintf(pathKeyFormat, sessionID)
	dir, err := a.cache.Get(ctx, key)
	if err != nil {
		if cache.IsCacheMiss(err) {
			return nil, ErrIndexNotFound
		}
		return nil, err
	}

	a.logger.Debug("loading taxonomy index", zap.String("path", dir))
	return Load(dir, a.embedder)
}
