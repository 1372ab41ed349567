package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseClassification_PlainJSON(t *testing.T) {
	raw := `{"majorCode": "H01", "majorTitle": "전기", "middleCode": "H01-01", "middleTitle": "배터리", "smallCode": "H01-01-01", "smallTitle": "리튬"}`

	c, err := ParseClassification(raw, "KR10-2020-0000001")
	require.NoError(t, err)
	assert.Equal(t, "KR10-2020-0000001", c.ApplicationNumber)
	assert.Equal(t, "H01", c.MajorCode)
	assert.Equal(t, "리튬", c.SmallTitle)
	assert.False(t, c.IsUnclassified())
}

func TestParseClassification_CodeFence(t *testing.T) {
	raw := "분류 결과입니다:\n```json\n{\"majorCode\": \"H01\", \"majorTitle\": \"전기\", \"middleCode\": \"H01-01\", \"middleTitle\": \"배터리\", \"smallCode\": \"H01-01-01\", \"smallTitle\": \"리튬\"}\n```"

	c, err := ParseClassification(raw, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "H01-01", c.MiddleCode)
}

func TestParseClassification_ReplacesPlaceholders(t *testing.T) {
	raw := `{"majorCode": "H01", "majorTitle": "전기", "middleCode": "N/A", "middleTitle": "", "smallCode": "  ", "smallTitle": "N/A"}`

	c, err := ParseClassification(raw, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "H01", c.MajorCode)
	assert.Equal(t, Unclassified, c.MiddleCode)
	assert.Equal(t, Unclassified, c.MiddleTitle)
	assert.Equal(t, Unclassified, c.SmallCode)
	assert.Equal(t, Unclassified, c.SmallTitle)
	assert.True(t, c.IsUnclassified())
}

func TestParseClassification_InvalidJSON(t *testing.T) {
	_, err := ParseClassification("분류할 수 없습니다", "a-1")
	require.Error(t, err)
}

func TestUnclassifiedResult(t *testing.T) {
	c := UnclassifiedResult("a-1")
	assert.Equal(t, "a-1", c.ApplicationNumber)
	assert.True(t, c.IsUnclassified())
	assert.Equal(t, Unclassified, c.MajorCode)
	assert.Equal(t, Unclassified, c.SmallTitle)
}

// Normalize 必须幂等：执行两次与执行一次结果相同。
func TestNormalize_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := Classification{
			ApplicationNumber: rapid.String().Draw(t, "appNo"),
			MajorCode:         rapid.String().Draw(t, "majorCode"),
			MajorTitle:        rapid.String().Draw(t, "majorTitle"),
			MiddleCode:        rapid.String().Draw(t, "middleCode"),
			MiddleTitle:       rapid.String().Draw(t, "middleTitle"),
			SmallCode:         rapid.String().Draw(t, "smallCode"),
			SmallTitle:        rapid.String().Draw(t, "smallTitle"),
		}
		once := c.Normalize()
		twice := once.Normalize()
		if once != twice {
			t.Fatalf("normalize not idempotent: %v != %v", once, twice)
		}
	})
}

func TestPatentRow_Text(t *testing.T) {
	row := PatentRow{Title: "이차전지", Abstract: "리튬 이온 전지"}
	assert.Equal(t, "특허명: 이차전지 요약: 리튬 이온 전지", row.Text())
	assert.False(t, row.Empty())
	assert.True(t, PatentRow{}.Empty())
}
