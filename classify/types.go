// Package classify 实现特许分类与评估流水线：
// 按行扇出的分类任务、双路评估（向量相似度 + 推理模型）、
// 进度跟踪与结果汇总。
package classify

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Unclassified 是"未分类"哨兵值。任何缺失、空白或占位
// （"N/A"）的分类字段在解析阶段都会被替换成它。
const Unclassified = "미분류"

// PatentRow 是上传表格中的一行特许数据。
// ApplicationNumber 在 session 范围内唯一，是异步结果回表的连接键；
// 源表缺失时在解析阶段按行号确定性合成（先于扇出，绝不在 Worker 里算）。
type PatentRow struct {
	ApplicationNumber string `json:"applicationNumber"`
	Title             string `json:"title"`
	Abstract          string `json:"abstract"`
}

// Text 返回用于检索与提示词的特许描述文本。
func (r PatentRow) Text() string {
	return fmt.Sprintf("특허명: %s 요약: %s", r.Title, r.Abstract)
}

// Empty 报告该行是否没有任何可分类的内容。
func (r PatentRow) Empty() bool {
	return r.Title == "" && r.Abstract == ""
}

// Classification 是一次 LLM 分类的 6 字段结构化结果。
type Classification struct {
	ApplicationNumber string `json:"applicationNumber"`
	MajorCode         string `json:"majorCode"`
	MajorTitle        string `json:"majorTitle"`
	MiddleCode        string `json:"middleCode"`
	MiddleTitle       string `json:"middleTitle"`
	SmallCode         string `json:"smallCode"`
	SmallTitle        string `json:"smallTitle"`
}

// IsUnclassified 报告任一代码字段是否为哨兵值。
func (c Classification) IsUnclassified() bool {
	return c.MajorCode == Unclassified || c.MiddleCode == Unclassified || c.SmallCode == Unclassified
}

// UnclassifiedResult 返回全哨兵值的分类结果。
// 行级任务的任何终态失败（解析失败、非限流错误、重试耗尽）
// 都落到这里，绝不向兄弟行传播。
func UnclassifiedResult(applicationNumber string) Classification {
	return Classification{
		ApplicationNumber: applicationNumber,
		MajorCode:         Unclassified,
		MajorTitle:        Unclassified,
		MiddleCode:        Unclassified,
		MiddleTitle:       Unclassified,
		SmallCode:         Unclassified,
		SmallTitle:        Unclassified,
	}
}

// Patent 是回表之后的完整记录：原始行 + 分类结果。
type Patent struct {
	ApplicationNumber string `json:"applicationNumber"`
	Title             string `json:"title"`
	Abstract          string `json:"abstract"`
	MajorCode         string `json:"majorCode"`
	MajorTitle        string `json:"majorTitle"`
	MiddleCode        string `json:"middleCode"`
	MiddleTitle       string `json:"middleTitle"`
	SmallCode         string `json:"smallCode"`
	SmallTitle        string `json:"smallTitle"`
}

// BestMatch 是向量评估中最近邻条目按层级展开后的代码/名称集。
type BestMatch struct {
	MajorCode   string `json:"majorCode"`
	MajorTitle  string `json:"majorTitle"`
	MiddleCode  string `json:"middleCode"`
	MiddleTitle string `json:"middleTitle"`
	SmallCode   string `json:"smallCode"`
	SmallTitle  string `json:"smallTitle"`
}

// Verdict 是向量评估的判定结果。
type Verdict struct {
	IsCorrect bool   `json:"is_correct"`
	Reason    string `json:"reason"`
}

// VectorEvaluation 是向量相似度评估的完整结果。
type VectorEvaluation struct {
	SimilarityScore   float64        `json:"similarity_score"`
	BestMatch         BestMatch      `json:"best_match"`
	LLMClassification Classification `json:"llm_classification"`
	Evaluation        Verdict        `json:"evaluation"`
}

// ReasoningEvaluation 是推理模型评估的结果：三档离散分数加一行理由。
type ReasoningEvaluation struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Evaluation 捆绑一行特许的两路评估结果。
type Evaluation struct {
	VectorBased VectorEvaluation    `json:"vector_based"`
	Reasoning   ReasoningEvaluation `json:"reasoning"`
}

// Summary 是一个 (session, LLM) 管线的汇总评估分数。
type Summary struct {
	TotalPatents   int     `json:"total_patents"`
	VectorAccuracy float64 `json:"vector_accuracy"`
	ReasoningScore float64 `json:"reasoning_score"`
}

var codeFenceRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]+?)\\s*```")

// replaceNA 把空值与占位值替换成哨兵。对已是哨兵的值是恒等操作，
// 因此重复执行与执行一次结果相同。
func replaceNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || trimmed == "N/A" {
		return Unclassified
	}
	return trimmed
}

// ParseClassification 把 LLM 的原始回复解析成分类结果：
// 剥掉 Markdown 代码围栏，按 JSON 解析 6 字段，缺失/占位字段替换为哨兵。
// JSON 格式错误返回 error，调用方应立即落到全哨兵结果，绝不重试。
func ParseClassification(raw, applicationNumber string) (Classification, error) {
	cleaned := strings.TrimSpace(raw)
	if m := codeFenceRe.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}

	var parsed struct {
		MajorCode   string `json:"majorCode"`
		MajorTitle  string `json:"majorTitle"`
		MiddleCode  string `json:"middleCode"`
		MiddleTitle string `json:"middleTitle"`
		SmallCode   string `json:"smallCode"`
		SmallTitle  string `json:"smallTitle"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return Classification{}, fmt.Errorf("parse classification response: %w", err)
	}

	return Classification{
		ApplicationNumber: applicationNumber,
		MajorCode:         replaceNA(parsed.MajorCode),
		MajorTitle:        replaceNA(parsed.MajorTitle),
		MiddleCode:        replaceNA(parsed.MiddleCode),
		MiddleTitle:       replaceNA(parsed.MiddleTitle),
		SmallCode:         replaceNA(parsed.SmallCode),
		SmallTitle:        replaceNA(parsed.SmallTitle),
	}, nil
}

// Normalize 对已解析的分类结果再做一次哨兵替换（幂等）。
func (c Classification) Normalize() Classification {
	return Classification{
		ApplicationNumber: c.ApplicationNumber,
		MajorCode:         replaceNA(c.MajorCode),
		MajorTitle:        replaceNA(c.MajorTitle),
		MiddleCode:        replaceNA(c.MiddleCode),
		MiddleTitle:       replaceNA(c.MiddleTitle),
		SmallCode:         replaceNA(c.SmallCode),
		SmallTitle:        replaceNA(c.SmallTitle),
	}
}
