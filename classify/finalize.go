package classify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/internal/state"
)

// EvaluatedPatent 是评估管线的最终行记录：原始行、分类结果与两类评估。
type EvaluatedPatent struct {
	Patent
	Evaluation Evaluation `json:"evaluation"`
}

// Finalizer 在一条管线的全部行任务汇合后收尾：
// 按出원번호对账暂存哈希、产出结果列表与汇总、写出结果表、
// 清理暂存、发布终态。结果 xlsx 只在这里落盘，下载接口只读。
type Finalizer struct {
	state     *state.Store
	artifacts *ArtifactWriter
	logger    *zap.Logger
}

// NewFinalizer 创建收尾器。
func NewFinalizer(st *state.Store, artifacts *ArtifactWriter, logger *zap.Logger) *Finalizer {
	return &Finalizer{state: st, artifacts: artifacts, logger: logger}
}

// CompleteClassification 收尾仅分类模式。
// 各任务推入结果列表的是裸分类记录，这里按行序对账：
// 把원문 제목/초록回填进记录、整体替换结果列表、写出结果表，
// 最后记录耗时并发布完成事件。不可恢复的存储错误发布 error 终态。
func (f *Finalizer) CompleteClassification(ctx context.Context, scope state.Scope, rows []PatentRow) error {
	if err := f.completeClassification(ctx, scope, rows); err != nil {
		f.logger.Error("분류 마무리 실패",
			zap.String("session", scope.SessionID),
			zap.Error(err),
		)
		if pubErr := f.state.PublishStatus(ctx, scope, state.StatusError, err.Error()); pubErr != nil {
			f.logger.Error("오류 상태 발행 실패", zap.Error(pubErr))
		}
		return err
	}
	return nil
}

func (f *Finalizer) completeClassification(ctx context.Context, scope state.Scope, rows []PatentRow) error {
	elapsed, err := f.state.RecordElapsed(ctx, scope)
	if err != nil {
		f.logger.Warn("소요 시간 기록 실패", zap.Error(err))
	}

	raw, err := f.state.Results(ctx, scope.SessionID)
	if err != nil {
		return fmt.Errorf("load session results: %w", err)
	}
	byAppNo := make(map[string]Classification, len(raw))
	for _, payload := range raw {
		var c Classification
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			f.logger.Warn("결과 레코드 손상, 건너뜀",
				zap.String("session", scope.SessionID),
				zap.Error(err),
			)
			continue
		}
		byAppNo[c.ApplicationNumber] = c
	}

	records := make([]string, 0, len(rows))
	for _, row := range rows {
		c, ok := byAppNo[row.ApplicationNumber]
		if !ok {
			f.logger.Warn("행 대조 실패, 건너뜀",
				zap.String("session", scope.SessionID),
				zap.String("applicationNumber", row.ApplicationNumber),
			)
			continue
		}
		payload, err := json.Marshal(Patent{
			ApplicationNumber: row.ApplicationNumber,
			Title:             row.Title,
			Abstract:          row.Abstract,
			MajorCode:         c.MajorCode,
			MajorTitle:        c.MajorTitle,
			MiddleCode:        c.MiddleCode,
			MiddleTitle:       c.MiddleTitle,
			SmallCode:         c.SmallCode,
			SmallTitle:        c.SmallTitle,
		})
		if err != nil {
			return fmt.Errorf("marshal patent record: %w", err)
		}
		records = append(records, string(payload))
	}
	if err := f.state.ReplaceResults(ctx, scope.SessionID, records); err != nil {
		return fmt.Errorf("replace session results: %w", err)
	}

	f.writeArtifact(scope, rows, byAppNo)

	f.logger.Info("분류 완료",
		zap.String("session", scope.SessionID),
		zap.Int("patents", len(records)),
		zap.Duration("elapsed", elapsed),
	)
	return f.state.PublishStatus(ctx, scope, state.StatusCompleted, "분류가 완료되었습니다.")
}

// writeArtifact 写出最终结果表。写失败不致命：
// 结果列表与汇总仍然有效，记 warn 后继续收尾。
func (f *Finalizer) writeArtifact(scope state.Scope, rows []PatentRow, classifications map[string]Classification) {
	if f.artifacts == nil {
		return
	}
	path, err := f.artifacts.Write(scope.Key(), rows, classifications)
	if err != nil {
		f.logger.Warn("결과 파일 작성 실패",
			zap.String("session", scope.SessionID),
			zap.String("llm", scope.LLM),
			zap.Error(err),
		)
		return
	}
	f.logger.Info("결과 파일 작성 완료", zap.String("path", path))
}

// CompleteEvaluation 收尾评估模式。
// 两个暂存哈希按出원번호对账：任一侧缺失的行记 warn 后跳过，
// 不让单行缺失拖垮整条管线的汇总。对账后的记录推入结果列表，
// 计算汇总（분류 정확도 = 100*정답/전체，추론 점수 = 평균*100），
// 清理暂存哈希并发布完成事件。不可恢复的存储错误发布 error 终态。
func (f *Finalizer) CompleteEvaluation(ctx context.Context, scope state.Scope, rows []PatentRow) error {
	if err := f.completeEvaluation(ctx, scope, rows); err != nil {
		f.logger.Error("평가 마무리 실패",
			zap.String("session", scope.SessionID),
			zap.String("llm", scope.LLM),
			zap.Error(err),
		)
		if pubErr := f.state.PublishStatus(ctx, scope, state.StatusError, err.Error()); pubErr != nil {
			f.logger.Error("오류 상태 발행 실패", zap.Error(pubErr))
		}
		return err
	}
	return nil
}

func (f *Finalizer) completeEvaluation(ctx context.Context, scope state.Scope, rows []PatentRow) error {
	elapsed, err := f.state.RecordElapsed(ctx, scope)
	if err != nil {
		f.logger.Warn("소요 시간 기록 실패", zap.Error(err))
	}

	var (
		correct        int
		reasoningTotal float64
		reconciled     int
	)
	classified := make(map[string]Classification, len(rows))

	for _, row := range rows {
		record, ok := f.reconcile(ctx, scope, row)
		if !ok {
			continue
		}
		reconciled++
		classified[row.ApplicationNumber] = record.Evaluation.VectorBased.LLMClassification
		if record.Evaluation.VectorBased.Evaluation.IsCorrect {
			correct++
		}
		reasoningTotal += record.Evaluation.Reasoning.Score

		patentPayload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal evaluated patent: %w", err)
		}
		if err := f.state.PushPatent(ctx, scope, string(patentPayload)); err != nil {
			return fmt.Errorf("push patent result: %w", err)
		}

		reasonPayload, err := json.Marshal(record.Evaluation.Reasoning)
		if err != nil {
			return fmt.Errorf("marshal reasoning result: %w", err)
		}
		if err := f.state.PushReasoning(ctx, scope, string(reasonPayload)); err != nil {
			return fmt.Errorf("push reasoning result: %w", err)
		}
	}

	summary := Summary{TotalPatents: reconciled}
	if reconciled > 0 {
		summary.VectorAccuracy = 100 * float64(correct) / float64(reconciled)
		summary.ReasoningScore = 100 * reasoningTotal / float64(reconciled)
	}
	summaryPayload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := f.state.SetSummary(ctx, scope, string(summaryPayload)); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}

	if err := f.state.ClearScratch(ctx, scope); err != nil {
		f.logger.Warn("임시 해시 정리 실패", zap.Error(err))
	}

	f.writeArtifact(scope, rows, classified)

	f.logger.Info("평가 완료",
		zap.String("session", scope.SessionID),
		zap.String("llm", scope.LLM),
		zap.Int("patents", reconciled),
		zap.Float64("vectorAccuracy", summary.VectorAccuracy),
		zap.Float64("reasoningScore", summary.ReasoningScore),
		zap.Duration("elapsed", elapsed),
	)
	return f.state.PublishStatus(ctx, scope, state.StatusCompleted, "평가가 완료되었습니다.")
}

// reconcile 把一行的两个暂存记录合并为最终记录。
// 任一侧缺失或损坏时跳过该行。
func (f *Finalizer) reconcile(ctx context.Context, scope state.Scope, row PatentRow) (EvaluatedPatent, bool) {
	skip := func(kind string, err error) (EvaluatedPatent, bool) {
		f.logger.Warn("행 대조 실패, 건너뜀",
			zap.String("session", scope.SessionID),
			zap.String("llm", scope.LLM),
			zap.String("applicationNumber", row.ApplicationNumber),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return EvaluatedPatent{}, false
	}

	vecRaw, err := f.state.Classification(ctx, scope, row.ApplicationNumber)
	if err != nil {
		return skip("classification", err)
	}
	var vec VectorEvaluation
	if err := json.Unmarshal([]byte(vecRaw), &vec); err != nil {
		return skip("classification", err)
	}

	reasonRaw, err := f.state.Reason(ctx, scope, row.ApplicationNumber)
	if err != nil {
		return skip("reason", err)
	}
	var reasoning ReasoningEvaluation
	if err := json.Unmarshal([]byte(reasonRaw), &reasoning); err != nil {
		return skip("reason", err)
	}

	c := vec.LLMClassification
	return EvaluatedPatent{
		Patent: Patent{
			ApplicationNumber: row.ApplicationNumber,
			Title:             row.Title,
			Abstract:          row.Abstract,
			MajorCode:         c.MajorCode,
			MajorTitle:        c.MajorTitle,
			MiddleCode:        c.MiddleCode,
			MiddleTitle:       c.MiddleTitle,
			SmallCode:         c.SmallCode,
			SmallTitle:        c.SmallTitle,
		},
		Evaluation: Evaluation{VectorBased: vec, Reasoning: reasoning},
	}, true
}
