// Package database 持久化各会话的最优 LLM 判定结果。
// Redis 里的评估键 24 小时过期，跨会话的优胜记录落在本地 SQLite。
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// BestLLMRecord 是一次会话的优胜 LLM 判定。
// 综合分 = 벡터 정확도 + 추론 점수，取最高者。
type BestLLMRecord struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	SessionID      string    `gorm:"uniqueIndex;size:64" json:"sessionId"`
	LLMName        string    `gorm:"size:32" json:"llmName"`
	VectorAccuracy float64   `json:"vectorAccuracy"`
	ReasoningScore float64   `json:"reasoningScore"`
	CombinedScore  float64   `json:"combinedScore"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (BestLLMRecord) TableName() string { return "best_llm_records" }

// Store 是优胜记录的存取层。
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 打开（或创建）SQLite 数据库并迁移表结构。
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&BestLLMRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info("database ready", zap.String("path", path))
	return &Store{db: db, logger: logger.With(zap.String("component", "database"))}, nil
}

// Save 保存会话的优胜判定，同一会话重复判定时覆盖。
func (s *Store) Save(ctx context.Context, record *BestLLMRecord) error {
	record.CombinedScore = record.VectorAccuracy + record.ReasoningScore
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"llm_name", "vector_accuracy", "reasoning_score", "combined_score"}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("save best llm record: %w", err)
	}

	s.logger.Info("best LLM saved",
		zap.String("session", record.SessionID),
		zap.String("llm", record.LLMName),
		zap.Float64("combined", record.CombinedScore),
	)
	return nil
}

// BySession 返回指定会话的优胜记录。
func (s *Store) BySession(ctx context.Context, sessionID string) (*BestLLMRecord, error) {
	var record BestLLMRecord
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Recent 返回最近的 limit 条优胜记录，按时间倒序。
func (s *Store) Recent(ctx context.Context, limit int) ([]BestLLMRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []BestLLMRecord
	err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list best llm records: %w", err)
	}
	return records, nil
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
