package classify

import (
	"fmt"
	"strings"

	"github.com/BaSui01/patentflow/taxonomy"
)

// 检索条数：分类与推理评估都使用最相近的 3 条分类条目作为上下文。
const retrievalTopK = 3

const classifyTemplate = `
다음은 특허 분류 데이터베이스에서 검색된 유사한 특허 정보입니다:

%s

위 참고 정보를 바탕으로, 다음 특허 정보에 대한 대분류, 중분류, 소분류를 제공해주세요.
대분류 코드와 명칭, 중분류 코드와 명칭, 소분류 코드와 명칭을 모두 포함해야 합니다.
꼭 context안에 있는 기준으로 결과를 내세요.
해당하는게 없으면 미분류로 결과 내세요.
이유를 적지말고 응답 형식만 맞게 답 하세요.

특허 정보: %s

너는 다음 JSON 형태로만 응답해야 해: {"majorCode": "...", "majorTitle": "...", "middleCode": "...", "middleTitle": "...", "smallCode": "...", "smallTitle": "..."}
`

const reasoningTemplate = `
당신은 특허 분류 전문가입니다. 다음 특허의 분류 결과를 평가해주세요.
특허 정보는 대상 특허 데이터의 특허명과 요약을 포함합니다.
현재 분류 결과는 저장된 분류 체계를 기반으로 분류한 결과입니다.
유사도 기반 추천 분류 체계는 분류 체계 중 특허 정보와 가장 유사한 3개의 분류입니다.
당신의 목표는 이것들을 기준으로 이 특허 분류가 정확한지 평가하는 것입니다.
평가 요구사항과 주의사항에 맞게 잘 평가해 주세요.

[특허 정보]
%s

[현재 분류 결과]
대분류: %s (%s)
중분류: %s (%s)
소분류: %s (%s)

[유사도 기반 추천 분류 체계]
%s

[평가 요구사항]
1. 분석: 유사도 기반 추천 분류 체계와 현재 분류 결과를 비교하여 평가해주세요.
2. 점수: 0.0, 0.5, 1.0 중 하나의 점수로 평가해야 합니다.
   - 0.0: 완전히 부적절한 분류
   - 0.5: 부분적으로 적절한 분류
   - 1.0: 완벽하게 적절한 분류
3. 이유: 분석을 1줄 요약하여 작성해주세요.

[주의사항]
1. 반드시 분류 체계를 기반으로 평가해야 합니다.
2. 분류 체계에 없는 분류는 '미분류'로 간주합니다.
3. 평가 요구 사항의 포맷 [1. 분석 2. 점수 3. 이유]를 반드시 지킵니다.
`

const scoreFromReasonTemplate = `다음 설명은 분류에 대한 평가의 이유야. 이 설명을 보고 0.0, 0.5, 1.0 중 어떤 점수를 줬을지 추측해줘. 숫자만 답해.

%s`

// buildClassifyPrompt 渲染分类提示词：检索到的分类条目上下文 + 特许文本。
func buildClassifyPrompt(entries []taxonomy.ScoredEntry, patentText string) string {
	return fmt.Sprintf(classifyTemplate, formatContext(entries), patentText)
}

// buildScoreRecoveryPrompt 渲染分值恢复提示词：从理由文本反推 3 档分值。
func buildScoreRecoveryPrompt(reason string) string {
	return fmt.Sprintf(scoreFromReasonTemplate, reason)
}

// buildReasoningPrompt 渲染推理评估提示词。
func buildReasoningPrompt(patentText string, c Classification, entries []taxonomy.ScoredEntry) string {
	return fmt.Sprintf(reasoningTemplate,
		patentText,
		c.MajorCode, c.MajorTitle,
		c.MiddleCode, c.MiddleTitle,
		c.SmallCode, c.SmallTitle,
		formatRecommendations(entries))
}

// formatContext 把检索结果按层级格式化为分类上下文。
// 中分类条目带上位分类，小分类条目带上位与最上位分类。
func formatContext(entries []taxonomy.ScoredEntry) string {
	formatted := make([]string, 0, len(entries))
	for _, se := range entries {
		e := se.Entry
		var b strings.Builder
		b.WriteString("분류 정보:\n")
		b.WriteString("- 코드: " + e.Code + "\n")
		b.WriteString("- 명칭: " + e.Name + "\n")
		b.WriteString("- 레벨: " + string(e.Level) + "\n")
		b.WriteString("- 상위 코드: " + e.ParentCode + "\n")
		b.WriteString("- 상위 명칭: " + e.ParentName + "\n")
		if e.Level == taxonomy.LevelMinor {
			b.WriteString("- 최상위 코드: " + e.GrandParentCode + "\n")
			b.WriteString("- 최상위 명칭: " + e.GrandParentName + "\n")
		}
		b.WriteString("- 설명: " + e.Description)
		formatted = append(formatted, b.String())
	}
	return strings.Join(formatted, "\n\n---\n\n")
}

// formatRecommendations 把检索结果格式化为推理评估用的推荐分类列表。
func formatRecommendations(entries []taxonomy.ScoredEntry) string {
	formatted := make([]string, 0, len(entries))
	for _, se := range entries {
		e := se.Entry
		formatted = append(formatted, fmt.Sprintf(`분류 체계:
- 대분류: %s (%s)
- 중분류: %s (%s)
- 소분류: %s (%s)
- 설명: %s`,
			e.GrandParentCode, e.GrandParentName,
			e.ParentCode, e.ParentName,
			e.Code, e.Name,
			e.Description))
	}
	return strings.Join(formatted, "\n---\n")
}
