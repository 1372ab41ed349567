package classify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/patentflow/internal/metrics"
	"github.com/BaSui01/patentflow/internal/pool"
	"github.com/BaSui01/patentflow/internal/state"
	"github.com/BaSui01/patentflow/llm"
	"github.com/BaSui01/patentflow/taxonomy"
)

// ===== 🎯 管线编排 =====
//
// 每个 (session, LLM) 是一条独立管线：逐行扇出分类任务，评估模式下
// 每行再分叉为 向量评估 ∥ 추론 평가 两个并行子任务，行内汇合后推进
// 一次进度。全部行汇合后由 Finalizer 收尾。管线之间互不影响，
// 一条失败不取消其余。

// Coordinator 驱动分类与评估管线。
type Coordinator struct {
	registry   *llm.Registry
	taxonomies *taxonomy.Adapter
	state      *state.Store
	rows       *RowStore
	pool       *pool.Pool
	classifier *Classifier
	vector     *VectorEvaluator
	reasoning  *ReasoningEvaluator
	finalizer  *Finalizer
	metrics    *metrics.Collector
	logger     *zap.Logger

	// reasoningBackend 非空时，推理评估统一走该 Provider，
	// 分类仍由各管线自己的 LLM 完成。
	reasoningBackend llm.Provider
}

// NewCoordinator 组装编排器。
func NewCoordinator(
	registry *llm.Registry,
	taxonomies *taxonomy.Adapter,
	st *state.Store,
	rows *RowStore,
	taskPool *pool.Pool,
	artifacts *ArtifactWriter,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		registry:   registry,
		taxonomies: taxonomies,
		state:      st,
		rows:       rows,
		pool:       taskPool,
		classifier: NewClassifier(st, collector, logger),
		vector:     NewVectorEvaluator(st, logger),
		reasoning:  NewReasoningEvaluator(st, collector, logger),
		finalizer:  NewFinalizer(st, artifacts, logger),
		metrics:    collector,
		logger:     logger,
	}
}

// UseReasoningBackend 指定专用的推理评估 Provider。
func (co *Coordinator) UseReasoningBackend(p llm.Provider) {
	co.reasoningBackend = p
}

// prepare 解析管线前置条件：暂存行、会话索引、Provider。
func (co *Coordinator) prepare(ctx context.Context, sessionID, llmName string) ([]PatentRow, *taxonomy.Index, llm.Provider, error) {
	rows, err := co.rows.Load(sessionID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load session rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, nil, fmt.Errorf("session %s has no rows", sessionID)
	}
	idx, err := co.taxonomies.ForSession(ctx, sessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	provider, err := co.registry.ByName(llmName)
	if err != nil {
		return nil, nil, nil, err
	}
	return rows, idx, provider, nil
}

// RunClassification 执行仅分类管线（session 级命名空间，无评估）。
// 阻塞到全部行汇合并发布完成事件。
func (co *Coordinator) RunClassification(ctx context.Context, sessionID, llmName string) error {
	rows, idx, provider, err := co.prepare(ctx, sessionID, llmName)
	if err != nil {
		return err
	}

	scope := state.Scope{SessionID: sessionID}
	if err := co.state.Begin(ctx, scope, int64(len(rows))); err != nil {
		return fmt.Errorf("begin session state: %w", err)
	}

	co.logger.Info("분류 파이프라인 시작",
		zap.String("session", sessionID),
		zap.String("llm", provider.Name()),
		zap.Int("rows", len(rows)),
	)

	var wg sync.WaitGroup
	for _, row := range rows {
		row := row
		wg.Add(1)
		err := co.pool.Submit(ctx, func(taskCtx context.Context) error {
			defer wg.Done()
			co.classifier.ClassifyAndAdvance(taskCtx, provider, idx, scope, row)
			return nil
		})
		if err != nil {
			wg.Done()
			co.logger.Error("행 제출 실패", zap.Error(err))
		}
	}
	wg.Wait()

	return co.finalizer.CompleteClassification(ctx, scope, rows)
}

// RunEvaluation 执行单 LLM 的评估管线。
func (co *Coordinator) RunEvaluation(ctx context.Context, sessionID, llmName string) error {
	rows, idx, provider, err := co.prepare(ctx, sessionID, llmName)
	if err != nil {
		return err
	}
	return co.runEvaluation(ctx, provider, idx, sessionID, rows)
}

// RunAllPipelines 并行执行多条评估管线，每个 LLM 一条。
// 管线之间完全独立：不共享取消，一条失败不影响其余，
// 返回值聚合各管线的第一个错误。
func (co *Coordinator) RunAllPipelines(ctx context.Context, sessionID string, llmNames []string) error {
	rows, err := co.rows.Load(sessionID)
	if err != nil {
		return fmt.Errorf("load session rows: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("session %s has no rows", sessionID)
	}
	idx, err := co.taxonomies.ForSession(ctx, sessionID)
	if err != nil {
		return err
	}

	providers := make([]llm.Provider, 0, len(llmNames))
	for _, name := range llmNames {
		p, err := co.registry.ByName(name)
		if err != nil {
			return err
		}
		providers = append(providers, p)
	}

	co.metrics.SessionStarted()
	defer co.metrics.SessionDone()

	var g errgroup.Group
	for _, provider := range providers {
		provider := provider
		g.Go(func() error {
			return co.runEvaluation(ctx, provider, idx, sessionID, rows)
		})
	}
	return g.Wait()
}

func (co *Coordinator) runEvaluation(ctx context.Context, provider llm.Provider, idx *taxonomy.Index, sessionID string, rows []PatentRow) error {
	scope := state.Scope{SessionID: sessionID, LLM: provider.Name()}
	if err := co.state.Begin(ctx, scope, int64(len(rows))); err != nil {
		return fmt.Errorf("begin pipeline state: %w", err)
	}

	co.logger.Info("평가 파이프라인 시작",
		zap.String("session", sessionID),
		zap.String("llm", provider.Name()),
		zap.Int("rows", len(rows)),
	)

	var wg sync.WaitGroup
	for _, row := range rows {
		row := row
		wg.Add(1)
		err := co.pool.Submit(ctx, func(taskCtx context.Context) error {
			defer wg.Done()
			co.evaluateRow(taskCtx, provider, idx, scope, row)
			return nil
		})
		if err != nil {
			wg.Done()
			co.logger.Error("행 제출 실패",
				zap.String("llm", provider.Name()),
				zap.Error(err),
			)
		}
	}
	wg.Wait()

	return co.finalizer.CompleteEvaluation(ctx, scope, rows)
}

// evaluateRow 是评估管线的单行任务体：
// 分류 → (벡터 평가 ∥ 추론 평가) → 진행률 1 증가。
// 行内无论成败都恰好推进一次进度，total 次推进即全部汇合。
func (co *Coordinator) evaluateRow(ctx context.Context, provider llm.Provider, idx *taxonomy.Index, scope state.Scope, row PatentRow) {
	c := co.classifier.ClassifyRow(ctx, provider, idx, row)

	evaluator := provider
	if co.reasoningBackend != nil {
		evaluator = co.reasoningBackend
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		co.vector.Evaluate(ctx, idx, scope, row, c)
	}()
	go func() {
		defer wg.Done()
		co.reasoning.Evaluate(ctx, evaluator, idx, scope, row, c)
	}()
	wg.Wait()

	if _, err := co.state.Advance(ctx, scope); err != nil {
		co.logger.Error("진행률 갱신 실패",
			zap.String("llm", scope.LLM),
			zap.String("applicationNumber", row.ApplicationNumber),
			zap.Error(err),
		)
	}
}

// ClassifySync 同步分类：不落 Redis 进度，每个 LLM 一个并发协程跑完
// 全部行，gather 汇合后按 LLM 名称返回各自的结果集。行顺序与输入一致。
func (co *Coordinator) ClassifySync(ctx context.Context, sessionID string, llmNames []string) (map[string][]Classification, error) {
	rows, err := co.rows.Load(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("session %s has no rows", sessionID)
	}
	idx, err := co.taxonomies.ForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	providers := make([]llm.Provider, 0, len(llmNames))
	for _, name := range llmNames {
		p, err := co.registry.ByName(name)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	perLLM := make([][]Classification, len(providers))
	var g errgroup.Group
	for i, provider := range providers {
		i, provider := i, provider
		g.Go(func() error {
			perLLM[i] = co.classifyAllRows(ctx, provider, idx, rows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make(map[string][]Classification, len(providers))
	for i, provider := range providers {
		results[provider.Name()] = perLLM[i]
	}
	return results, nil
}

// classifyAllRows 用单个 Provider 同步分类全部行，行内再并发。
func (co *Coordinator) classifyAllRows(ctx context.Context, provider llm.Provider, idx *taxonomy.Index, rows []PatentRow) []Classification {
	results := make([]Classification, len(rows))
	var g errgroup.Group
	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			results[i] = co.classifier.ClassifyRow(ctx, provider, idx, row)
			return nil
		})
	}
	_ = g.Wait() // 任务体不返回 error
	return results
}
