package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RowStore 把上传的特许行暂存到本地磁盘，按 session 一个文件。
// 协调器扇出前读一次，汇总器回表时再读一次；它是消费型暂存，
// 不承担持久存储职责。
type RowStore struct {
	dir string
}

// NewRowStore 创建行暂存，目录不存在时创建。
func NewRowStore(dir string) (*RowStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp data dir: %w", err)
	}
	return &RowStore{dir: dir}, nil
}

func (rs *RowStore) path(sessionID string) string {
	return filepath.Join(rs.dir, sessionID+".json")
}

// Save 序列化 session 的全部行。
func (rs *RowStore) Save(sessionID string, rows []PatentRow) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal rows: %w", err)
	}
	return os.WriteFile(rs.path(sessionID), data, 0o644)
}

// Load 读取 session 的全部行。
func (rs *RowStore) Load(sessionID string) ([]PatentRow, error) {
	data, err := os.ReadFile(rs.path(sessionID))
	if err != nil {
		return nil, fmt.Errorf("load rows for session %s: %w", sessionID, err)
	}
	var rows []PatentRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal rows: %w", err)
	}
	return rows, nil
}
