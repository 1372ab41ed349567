package classify

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// 源表的列名别名。특허명 缺失时回退到 발명의 명칭。
var (
	columnAppNo    = "출원번호"
	columnTitles   = []string{"특허명", "발명의 명칭"}
	columnAbstract = "요약"
)

// 分类结果追加列，按原表列序之后排列。
var classificationColumns = []string{"대분류코드", "중분류코드", "소분류코드", "대분류명칭", "중분류명칭", "소분류명칭"}

// ParseRows 解析上传的 xlsx 为特许行。
// 出원번호缺失的行按行号合成确定性编号（KR10-XXXX-%07d），
// 在扇出之前就固定下来，Worker 不参与编号。
// 标题与摘要都为空的行被跳过。
func ParseRows(r io.Reader) ([]PatentRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("workbook has no data rows")
	}

	header := rows[0]
	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[strings.TrimSpace(name)] = i
	}

	cell := func(row []string, name string) string {
		idx, ok := colIdx[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var patents []PatentRow
	for i, row := range rows[1:] {
		title := ""
		for _, name := range columnTitles {
			if title = cell(row, name); title != "" {
				break
			}
		}
		abstract := cell(row, columnAbstract)
		if title == "" && abstract == "" {
			continue
		}

		appNo := cell(row, columnAppNo)
		if appNo == "" {
			appNo = fmt.Sprintf("KR10-XXXX-%07d", i)
		}

		patents = append(patents, PatentRow{
			ApplicationNumber: appNo,
			Title:             title,
			Abstract:          abstract,
		})
	}
	return patents, nil
}

// ArtifactWriter 生成带分类结果列的 xlsx 产物，表头填充黄色。
type ArtifactWriter struct {
	dir string
}

// NewArtifactWriter 创建产物输出器。
func NewArtifactWriter(dir string) (*ArtifactWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &ArtifactWriter{dir: dir}, nil
}

// Path 返回 session 的产物文件路径。
func (w *ArtifactWriter) Path(sessionID string) string {
	return filepath.Join(w.dir, sessionID+"_classified.xlsx")
}

// Write 按原始行序写出分类结果表。
// classifications 以出원번호为键；没有结果的行分类列留空。
func (w *ArtifactWriter) Write(sessionID string, rows []PatentRow, classifications map[string]Classification) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	header := []interface{}{columnAppNo, columnTitles[0], columnAbstract}
	for _, name := range classificationColumns {
		header = append(header, name)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		values := []interface{}{row.ApplicationNumber, row.Title, row.Abstract}
		if c, ok := classifications[row.ApplicationNumber]; ok {
			values = append(values, c.MajorCode, c.MiddleCode, c.SmallCode, c.MajorTitle, c.MiddleTitle, c.SmallTitle)
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cellRef, &values); err != nil {
			return "", fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	// 表头黄色填充
	styleID, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFFF00"}},
	})
	if err != nil {
		return "", fmt.Errorf("create header style: %w", err)
	}
	lastCol, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheet, "A1", lastCol, styleID); err != nil {
		return "", fmt.Errorf("style header: %w", err)
	}

	path := w.Path(sessionID)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save artifact: %w", err)
	}
	return path, nil
}
