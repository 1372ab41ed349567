package classify

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/internal/metrics"
	"github.com/BaSui01/patentflow/internal/state"
	"github.com/BaSui01/patentflow/llm"
	"github.com/BaSui01/patentflow/taxonomy"
)

// SimilarityThreshold 划分"体系内"与"体系外"的相关度边界。
// 等于阈值时，未分类判定按体系外处理（判对）。
const SimilarityThreshold = 0.5

// ===== 🎯 向量评估 =====

// VectorEvaluator 用向量近邻对分类结果做客观校验。
// 不调用 LLM，只依赖会话的分类体系索引。
type VectorEvaluator struct {
	state  *state.Store
	logger *zap.Logger
}

// NewVectorEvaluator 创建向量评估 Worker。
func NewVectorEvaluator(st *state.Store, logger *zap.Logger) *VectorEvaluator {
	return &VectorEvaluator{state: st, logger: logger}
}

// Evaluate 评估一行的分类结果并把记录写入会话的分类暂存哈希。
// 判定规则：
//   - 未分类 + 相关度 <= 阈值 → 正确（体系内确实没有合适分类）
//   - 未分类 + 相关度 >  阈值 → 错误（漏分类）
//   - 已分类 + 相关度 <  阈值 → 错误（不在体系覆盖范围内）
//   - 已分类 + 相关度 >= 阈值 → 三级代码与最近条目完全一致才算正确
//
// 评估自身从不让行失败：索引查询失败时落一条零相关度的错误判定。
func (v *VectorEvaluator) Evaluate(ctx context.Context, idx *taxonomy.Index, scope state.Scope, row PatentRow, c Classification) VectorEvaluation {
	eval := VectorEvaluation{LLMClassification: c}

	nearest, err := idx.Nearest(ctx, row.Text())
	if err != nil {
		v.logger.Warn("벡터 평가 검색 실패",
			zap.String("applicationNumber", row.ApplicationNumber),
			zap.Error(err),
		)
		eval.Evaluation = Verdict{IsCorrect: false, Reason: "유사도 검색에 실패하여 평가할 수 없습니다."}
		v.store(ctx, scope, row.ApplicationNumber, eval)
		return eval
	}

	eval.SimilarityScore = nearest.Score
	eval.BestMatch = expandBestMatch(nearest.Entry)
	eval.Evaluation = vectorVerdict(c, eval.BestMatch, nearest.Score)

	v.store(ctx, scope, row.ApplicationNumber, eval)
	return eval
}

func (v *VectorEvaluator) store(ctx context.Context, scope state.Scope, applicationNumber string, eval VectorEvaluation) {
	payload, err := json.Marshal(eval)
	if err != nil {
		v.logger.Error("벡터 평가 직렬화 실패", zap.Error(err))
		return
	}
	if err := v.state.SaveClassification(ctx, scope, applicationNumber, string(payload)); err != nil {
		v.logger.Error("벡터 평가 저장 실패",
			zap.String("applicationNumber", applicationNumber),
			zap.Error(err),
		)
	}
}

// expandBestMatch 按条目层级展开三级分类。
// 小分类条目自身是三级，中分类条目没有小分类一级。
func expandBestMatch(e taxonomy.Entry) BestMatch {
	switch e.Level {
	case taxonomy.LevelMinor:
		return BestMatch{
			MajorCode: e.GrandParentCode, MajorTitle: e.GrandParentName,
			MiddleCode: e.ParentCode, MiddleTitle: e.ParentName,
			SmallCode: e.Code, SmallTitle: e.Name,
		}
	case taxonomy.LevelMiddle:
		return BestMatch{
			MajorCode: e.ParentCode, MajorTitle: e.ParentName,
			MiddleCode: e.Code, MiddleTitle: e.Name,
		}
	default:
		return BestMatch{MajorCode: e.Code, MajorTitle: e.Name}
	}
}

func vectorVerdict(c Classification, bm BestMatch, similarity float64) Verdict {
	if c.IsUnclassified() {
		if similarity <= SimilarityThreshold {
			return Verdict{IsCorrect: true, Reason: "분류 체계에 적합한 분류가 없어 미분류가 타당합니다."}
		}
		return Verdict{IsCorrect: false, Reason: "유사한 분류가 존재하지만 미분류로 처리되었습니다."}
	}

	if similarity < SimilarityThreshold {
		return Verdict{IsCorrect: false, Reason: "분류 체계와의 유사도가 기준에 미치지 못합니다."}
	}
	if c.MajorCode == bm.MajorCode && c.MiddleCode == bm.MiddleCode && c.SmallCode == bm.SmallCode {
		return Verdict{IsCorrect: true, Reason: "최근접 분류 체계와 대/중/소분류가 모두 일치합니다."}
	}
	return Verdict{IsCorrect: false, Reason: "최근접 분류 체계와 분류 코드가 일치하지 않습니다."}
}

// ===== 🎯 추론 평가 =====

var (
	scoreRe  = regexp.MustCompile(`(?i)(?:점수|score)\s*[:：]?\s*(\d+(?:\.\d+)?)`)
	reasonRe = regexp.MustCompile(`이유\s*[:：]\s*(.+)`)
	numberRe = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
)

// defaultScore 在响应完全无法解读时使用。
const defaultScore = 0.5

// ReasoningEvaluator 让评估 LLM 对分类结果打 3 档分（0.0 / 0.5 / 1.0）。
// 与分类 Worker 共用同一重试策略。
type ReasoningEvaluator struct {
	caller
	state *state.Store
}

// NewReasoningEvaluator 创建推理评估 Worker。
func NewReasoningEvaluator(st *state.Store, collector *metrics.Collector, logger *zap.Logger) *ReasoningEvaluator {
	return &ReasoningEvaluator{
		caller: caller{metrics: collector, logger: logger},
		state:  st,
	}
}

// Evaluate 评估一行的分类结果并把记录写入会话的评估理由暂存哈希。
// 评分响应解析不出合法分值时，先用理由文本做一次恢复推断，
// 仍失败则落默认分 0.5 —— 行从不因评估失败而失败。
func (r *ReasoningEvaluator) Evaluate(ctx context.Context, provider llm.Provider, idx *taxonomy.Index, scope state.Scope, row PatentRow, c Classification) ReasoningEvaluation {
	eval := ReasoningEvaluation{Score: defaultScore, Reason: "평가 응답을 해석할 수 없습니다."}

	entries, err := idx.Search(ctx, row.Text(), retrievalTopK)
	if err != nil {
		r.logger.Warn("추론 평가 검색 실패",
			zap.String("applicationNumber", row.ApplicationNumber),
			zap.Error(err),
		)
		r.store(ctx, scope, row.ApplicationNumber, eval)
		return eval
	}

	raw, err := r.complete(ctx, provider, buildReasoningPrompt(row.Text(), c, entries))
	if err != nil {
		r.logger.Warn("추론 평가 호출 실패",
			zap.String("provider", provider.Name()),
			zap.String("applicationNumber", row.ApplicationNumber),
			zap.Error(err),
		)
		r.store(ctx, scope, row.ApplicationNumber, eval)
		return eval
	}

	score, reason := r.parseEvaluation(ctx, provider, raw)
	eval = ReasoningEvaluation{Score: score, Reason: reason}
	r.store(ctx, scope, row.ApplicationNumber, eval)
	return eval
}

// parseEvaluation 从评估响应里提取分值与理由。
// 分值夹取到 [0,1]；提取不到时把理由文本回喂给
// 同一 Provider 推断分值（恢复提示），再失败则取默认分。
func (r *ReasoningEvaluator) parseEvaluation(ctx context.Context, provider llm.Provider, raw string) (float64, string) {
	reason := strings.TrimSpace(raw)
	if m := reasonRe.FindStringSubmatch(raw); m != nil {
		reason = strings.TrimSpace(m[1])
	}

	if score, ok := extractScore(scoreRe, raw); ok {
		return score, reason
	}

	// 恢复：理由文本反推分值
	recovered, err := r.complete(ctx, provider, buildScoreRecoveryPrompt(reason))
	if err == nil {
		if score, ok := extractScore(numberRe, recovered); ok {
			return score, reason
		}
	}

	r.logger.Warn("평가 점수 추출 실패, 기본 점수 사용",
		zap.String("provider", provider.Name()),
	)
	return defaultScore, reason
}

func (r *ReasoningEvaluator) store(ctx context.Context, scope state.Scope, applicationNumber string, eval ReasoningEvaluation) {
	payload, err := json.Marshal(eval)
	if err != nil {
		r.logger.Error("추론 평가 직렬화 실패", zap.Error(err))
		return
	}
	if err := r.state.SaveReason(ctx, scope, applicationNumber, string(payload)); err != nil {
		r.logger.Error("추론 평가 저장 실패",
			zap.String("applicationNumber", applicationNumber),
			zap.Error(err),
		)
	}
}

// extractScore 用给定正则提取首个数字并夹取到 [0,1]。
// 提示词要求 3 档分值，但模型偶尔给 0.7 之类的中间值，
// 夹取保留它而不是丢弃后再去猜。
func extractScore(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return math.Min(1, math.Max(0, score)), true
}
