package classify

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func workbookBytes(t *testing.T, header []interface{}, rows ...[]interface{}) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellRef, &row))
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return bytes.NewReader(buf.Bytes())
}

func TestParseRows(t *testing.T) {
	r := workbookBytes(t,
		[]interface{}{"출원번호", "특허명", "요약"},
		[]interface{}{"KR10-2020-0000001", "리튬전지", "리튬 이온 전지"},
		[]interface{}{"KR10-2020-0000002", "배터리 팩", "배터리 모듈"},
	)

	rows, err := ParseRows(r)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "KR10-2020-0000001", rows[0].ApplicationNumber)
	assert.Equal(t, "리튬전지", rows[0].Title)
	assert.Equal(t, "리튬 이온 전지", rows[0].Abstract)
}

// 특허명이 없으면 발명의 명칭 열로 대체한다.
func TestParseRows_TitleAlias(t *testing.T) {
	r := workbookBytes(t,
		[]interface{}{"출원번호", "발명의 명칭", "요약"},
		[]interface{}{"KR10-2020-0000001", "리튬전지", "리튬 이온 전지"},
	)

	rows, err := ParseRows(r)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "리튬전지", rows[0].Title)
}

// 출원번호 없는 행은 행 번호로 결정적 번호를 합성한다.
func TestParseRows_SynthesizedApplicationNumber(t *testing.T) {
	r := workbookBytes(t,
		[]interface{}{"특허명", "요약"},
		[]interface{}{"리튬전지", "리튬 이온 전지"},
		[]interface{}{"배터리 팩", "배터리 모듈"},
	)

	rows, err := ParseRows(r)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "KR10-XXXX-0000000", rows[0].ApplicationNumber)
	assert.Equal(t, "KR10-XXXX-0000001", rows[1].ApplicationNumber)
}

// 제목과 요약이 모두 빈 행은 건너뛴다.
func TestParseRows_SkipsEmptyRows(t *testing.T) {
	r := workbookBytes(t,
		[]interface{}{"출원번호", "특허명", "요약"},
		[]interface{}{"KR10-2020-0000001", "리튬전지", "리튬 이온 전지"},
		[]interface{}{"KR10-2020-0000002", "", ""},
	)

	rows, err := ParseRows(r)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestParseRows_NoDataRows(t *testing.T) {
	r := workbookBytes(t, []interface{}{"출원번호", "특허명", "요약"})

	_, err := ParseRows(r)
	assert.Error(t, err)
}

func TestArtifactWriter_Write(t *testing.T) {
	w, err := NewArtifactWriter(t.TempDir())
	require.NoError(t, err)

	rows := []PatentRow{
		{ApplicationNumber: "a-1", Title: "리튬전지", Abstract: "리튬 이온 전지"},
		{ApplicationNumber: "a-2", Title: "배터리 팩", Abstract: "배터리 모듈"},
	}
	c := classified()
	path, err := w.Write("sess-1", rows, map[string]Classification{"a-1": c})
	require.NoError(t, err)
	assert.Equal(t, w.Path("sess-1"), path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	sheet := f.GetSheetName(0)
	got, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"출원번호", "특허명", "요약", "대분류코드", "중분류코드", "소분류코드", "대분류명칭", "중분류명칭", "소분류명칭"}, got[0])
	assert.Equal(t, []string{"a-1", "리튬전지", "리튬 이온 전지", "H01", "H01-01", "H01-01-01", "전기", "배터리", "리튬전지"}, got[1])

	// 분류 결과가 없는 행은 분류 열이 비어 있다
	assert.Equal(t, "a-2", got[2][0])
	assert.LessOrEqual(t, len(got[2]), 3)
}
