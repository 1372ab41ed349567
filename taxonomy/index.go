package taxonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/BaSui01/patentflow/llm/embedding"
)

// ErrIndexNotFound 表示该 session 尚未保存分类体系。
// 调用方应把它作为客户端错误处理，而不是瞬时故障。
var ErrIndexNotFound = errors.New("taxonomy index not found for session")

const indexFileName = "index.json"

// ScoredEntry 是一次近邻查询的单条结果。
type ScoredEntry struct {
	Entry Entry
	// Score 是归一化后的相关度，取值 [0,1]：原始余弦相似度 [-1,1]
	// 通过 (score+1)/2 重新缩放。
	Score float64
}

// Index 是分类体系的内存向量索引。
// 构建完成后只读，可被任意多个并发读者安全共享。
type Index struct {
	entries  []Entry
	vectors  [][]float64 // 单位化后的文档向量
	embedder embedding.Provider
}

type indexFile struct {
	Entries []Entry     `json:"entries"`
	Vectors [][]float64 `json:"vectors"`
}

// Build 为文档列表生成嵌入并构建索引。
func Build(ctx context.Context, docs []Entry, embedder embedding.Provider) (*Index, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("no taxonomy documents to index")
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed taxonomy documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(docs))
	}
	for i := range vectors {
		vectors[i] = normalize(vectors[i])
	}

	return &Index{entries: docs, vectors: vectors, embedder: embedder}, nil
}

// Len 返回索引中的文档数。
func (idx *Index) Len() int { return len(idx.entries) }

// Search 返回与查询最相近的 k 条分类条目，按相关度降序。
func (idx *Index) Search(ctx context.Context, query string, k int) ([]ScoredEntry, error) {
	if k <= 0 || len(idx.entries) == 0 {
		return nil, nil
	}

	qv, err := idx.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	qv = normalize(qv)

	results := make([]ScoredEntry, 0, len(idx.entries))
	for i, entry := range idx.entries {
		cos := dot(qv, idx.vectors[i])
		results = append(results, ScoredEntry{Entry: entry, Score: (cos + 1) / 2})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Nearest 返回单条最佳匹配及其归一化相关度。
func (idx *Index) Nearest(ctx context.Context, query string) (ScoredEntry, error) {
	results, err := idx.Search(ctx, query, 1)
	if err != nil {
		return ScoredEntry{}, err
	}
	if len(results) == 0 {
		return ScoredEntry{}, fmt.Errorf("empty taxonomy index")
	}
	return results[0], nil
}

// Save 把索引序列化到目录下（保存一次，之后按路径重新加载，不再重建）。
func (idx *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	data, err := json.Marshal(indexFile{Entries: idx.entries, Vectors: idx.vectors})
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, indexFileName), data, 0o644)
}

// Load 从目录加载序列化的索引。
func Load(dir string, embedder embedding.Provider) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIndexNotFound
		}
		return nil, fmt.Errorf("read index file: %w", err)
	}
	var file indexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal index: %w", err)
	}
	return &Index{entries: file.Entries, vectors: file.Vectors, embedder: embedder}, nil
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func normalize(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
