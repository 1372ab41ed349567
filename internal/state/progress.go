// Package state 维护每个 (session, LLM) 管线的共享进度与中间结果。
// 扇出的行级任务是相互独立的执行单元，没有共享内存，所有协调状态
// （计数器、快照、哈希、结果列表）都放在 Redis，全部带 24 小时过期。
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/BaSui01/patentflow/internal/cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyTTL 是所有派生键的保留窗口，创建时设置、汇总时刷新。
const KeyTTL = 24 * time.Hour

// Progress 是一次进度快照。同一 Scope 内 current 单调不减，
// 终态事件之前恰好到达 total 一次。
type Progress struct {
	Current    int64   `json:"current"`
	Total      int64   `json:"total"`
	Percentage float64 `json:"percentage"`
}

// 终态状态值。进度流在 completed 后补发 done 终止符，error 则直接结束。
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// StatusMessage 是发布到进度频道的终态事件。
type StatusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Scope 标识一个键命名空间。LLM 为空时是仅分类模式（按 session 命名），
// 否则是 session:LLM —— 每个 LLM 管线拥有独立的进度键，互不影响。
type Scope struct {
	SessionID string
	LLM       string
}

func (s Scope) Key() string {
	if s.LLM == "" {
		return s.SessionID
	}
	return s.SessionID + ":" + s.LLM
}

func (s Scope) field(suffix string) string { return s.Key() + ":" + suffix }

// ProgressChannel 返回该 Scope 的进度发布频道名。
func (s Scope) ProgressChannel() string { return s.field("progress") }

// Store 是进度与中间状态的唯一所有者。
type Store struct {
	cache  *cache.Manager
	logger *zap.Logger
}

// NewStore 创建进度存储。
func NewStore(cacheManager *cache.Manager, logger *zap.Logger) *Store {
	return &Store{
		cache:  cacheManager,
		logger: logger.With(zap.String("component", "state")),
	}
}

// Begin 在扇出之前初始化一个 Scope 的全部进度键：
// 开始时间、总数、计数器清零、0% 快照。
func (st *Store) Begin(ctx context.Context, scope Scope, total int64) error {
	start := time.Now()
	snapshot := Progress{Current: 0, Total: total, Percentage: 0}
	data, _ := json.Marshal(snapshot)

	if err := st.cache.Set(ctx, scope.field("time"), strconv.FormatFloat(float64(start.UnixNano())/1e9, 'f', -1, 64), KeyTTL); err != nil {
		return err
	}
	if err := st.cache.Set(ctx, scope.field("total_count"), strconv.FormatInt(total, 10), KeyTTL); err != nil {
		return err
	}
	if err := st.cache.Set(ctx, scope.field("progress_counter"), "0", KeyTTL); err != nil {
		return err
	}
	if err := st.cache.Set(ctx, scope.field("progress"), string(data), KeyTTL); err != nil {
		return err
	}

	st.logger.Info("progress initialized",
		zap.String("scope", scope.Key()),
		zap.Int64("total", total))
	return nil
}

// Advance 原子递增完成计数，写入并发布最新快照。
// 并发完成的行只会让 current 单调上升，绝不丢数。
func (st *Store) Advance(ctx context.Context, scope Scope) (Progress, error) {
	current, err := st.cache.Incr(ctx, scope.field("progress_counter"))
	if err != nil {
		return Progress{}, err
	}

	total, err := st.cache.GetInt64(ctx, scope.field("total_count"))
	if err != nil || total <= 0 {
		total = 1
	}

	snapshot := Progress{
		Current:    current,
		Total:      total,
		Percentage: percentage(current, total),
	}
	data, _ := json.Marshal(snapshot)

	channel := scope.ProgressChannel()
	if err := st.cache.Set(ctx, channel, string(data), KeyTTL); err != nil {
		return snapshot, err
	}
	if err := st.cache.Publish(ctx, channel, string(data)); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

// percentage 把完成比换算成 [0,100] 的百分比，保留两位小数。
// total 计数丢失时 current 可能超过兜底的 total，上限钳在 100。
func percentage(current, total int64) float64 {
	pct := math.Round(float64(current)/float64(total)*10000) / 100
	return math.Min(pct, 100)
}

// Counter 返回当前完成计数。
func (st *Store) Counter(ctx context.Context, scope Scope) (int64, error) {
	n, err := st.cache.GetInt64(ctx, scope.field("progress_counter"))
	if cache.IsCacheMiss(err) {
		return 0, nil
	}
	return n, err
}

// Total 返回该 Scope 的总行数。
func (st *Store) Total(ctx context.Context, scope Scope) (int64, error) {
	return st.cache.GetInt64(ctx, scope.field("total_count"))
}

// PublishStatus 写入并发布终态事件，流式端点据此结束订阅。
func (st *Store) PublishStatus(ctx context.Context, scope Scope, status, message string) error {
	data, _ := json.Marshal(StatusMessage{Status: status, Message: message})
	channel := scope.ProgressChannel()

	if err := st.cache.Set(ctx, channel, string(data), KeyTTL); err != nil {
		return err
	}
	return st.cache.Publish(ctx, channel, string(data))
}

// RecordElapsed 读出开始时间、计算耗时，并把 time 键改写为耗时秒数。
func (st *Store) RecordElapsed(ctx context.Context, scope Scope) (time.Duration, error) {
	raw, err := st.cache.Get(ctx, scope.field("time"))
	if err != nil {
		return 0, fmt.Errorf("read start time: %w", err)
	}
	startSecs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse start time: %w", err)
	}

	start := time.Unix(0, int64(startSecs*1e9))
	elapsed := time.Since(start)

	if err := st.cache.Set(ctx, scope.field("time"),
		strconv.FormatFloat(elapsed.Seconds(), 'f', 2, 64), KeyTTL); err != nil {
		return elapsed, err
	}
	return elapsed, nil
}

// SaveClassification 把一行的分类中间结果写入哈希（扇出 Worker 的暂存区）。
func (st *Store) SaveClassification(ctx context.Context, scope Scope, applicationNumber, payload string) error {
	key := scope.field("classifications")
	if err := st.cache.HSet(ctx, key, applicationNumber, payload); err != nil {
		return err
	}
	return st.cache.Expire(ctx, key, KeyTTL)
}

// Classification 读取一行的分类中间结果，缺失时返回 cache.ErrCacheMiss。
func (st *Store) Classification(ctx context.Context, scope Scope, applicationNumber string) (string, error) {
	return st.cache.HGet(ctx, scope.field("classifications"), applicationNumber)
}

// SaveReason 把一行的推理评估结果写入哈希。
func (st *Store) SaveReason(ctx context.Context, scope Scope, applicationNumber, payload string) error {
	key := scope.field("reason")
	if err := st.cache.HSet(ctx, key, applicationNumber, payload); err != nil {
		return err
	}
	return st.cache.Expire(ctx, key, KeyTTL)
}

// Reason 读取一行的推理评估结果。
func (st *Store) Reason(ctx context.Context, scope Scope, applicationNumber string) (string, error) {
	return st.cache.HGet(ctx, scope.field("reason"), applicationNumber)
}

// PushPatent 把最终分类记录追加到有序结果列表。
func (st *Store) PushPatent(ctx context.Context, scope Scope, payload string) error {
	key := scope.field("patents")
	if err := st.cache.RPush(ctx, key, payload); err != nil {
		return err
	}
	return st.cache.Expire(ctx, key, KeyTTL)
}

// PushReasoning 把推理评估记录追加到有序结果列表。
func (st *Store) PushReasoning(ctx context.Context, scope Scope, payload string) error {
	key := scope.field("reasoning")
	if err := st.cache.RPush(ctx, key, payload); err != nil {
		return err
	}
	return st.cache.Expire(ctx, key, KeyTTL)
}

// PushResult 把仅分类模式的记录追加到 session 级结果列表。
func (st *Store) PushResult(ctx context.Context, sessionID, payload string) error {
	if err := st.cache.RPush(ctx, sessionID, payload); err != nil {
		return err
	}
	return st.cache.Expire(ctx, sessionID, KeyTTL)
}

// Results 读取仅分类模式的 session 级结果列表。
func (st *Store) Results(ctx context.Context, sessionID string) ([]string, error) {
	return st.cache.LRange(ctx, sessionID, 0, -1)
}

// ReplaceResults 用收尾对账后的最终记录整体替换 session 级结果列表。
func (st *Store) ReplaceResults(ctx context.Context, sessionID string, payloads []string) error {
	if err := st.cache.Delete(ctx, sessionID); err != nil {
		return err
	}
	if len(payloads) == 0 {
		return nil
	}
	if err := st.cache.RPush(ctx, sessionID, payloads...); err != nil {
		return err
	}
	return st.cache.Expire(ctx, sessionID, KeyTTL)
}

// Snapshot 读取最近一次发布的进度快照，尚未开始时返回零值。
func (st *Store) Snapshot(ctx context.Context, scope Scope) (Progress, error) {
	raw, err := st.cache.Get(ctx, scope.ProgressChannel())
	if cache.IsCacheMiss(err) {
		return Progress{}, nil
	}
	if err != nil {
		return Progress{}, err
	}
	var p Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Progress{}, fmt.Errorf("decode progress snapshot: %w", err)
	}
	return p, nil
}

// Patents 读取有序分类结果列表。
func (st *Store) Patents(ctx context.Context, scope Scope) ([]string, error) {
	return st.cache.LRange(ctx, scope.field("patents"), 0, -1)
}

// Reasonings 读取有序推理评估列表。
func (st *Store) Reasonings(ctx context.Context, scope Scope) ([]string, error) {
	return st.cache.LRange(ctx, scope.field("reasoning"), 0, -1)
}

// SetSummary 持久化汇总评估分数。
func (st *Store) SetSummary(ctx context.Context, scope Scope, payload string) error {
	return st.cache.Set(ctx, scope.field("evaluation"), payload, KeyTTL)
}

// Summary 读取汇总评估分数。
func (st *Store) Summary(ctx context.Context, scope Scope) (string, error) {
	return st.cache.Get(ctx, scope.field("evaluation"))
}

// ClearScratch 删除回表后的行级暂存哈希——它们是草稿，不是记录。
func (st *Store) ClearScratch(ctx context.Context, scope Scope) error {
	return st.cache.Delete(ctx, scope.field("reason"), scope.field("classifications"))
}

// Subscribe 订阅该 Scope 的进度频道。
func (st *Store) Subscribe(ctx context.Context, scope Scope) *redis.PubSub {
	return st.cache.Subscribe(ctx, scope.ProgressChannel())
}
