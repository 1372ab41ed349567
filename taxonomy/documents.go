// Package taxonomy 构建并查询特许分类体系的向量索引。
// 分类体系是 大分类/中分类/小分类 三级结构，层级关系由代码前缀决定：
// 中分类代码以其大分类代码为前缀，小分类代码以其中分类代码为前缀。
package taxonomy

// Level 表示分类条目的层级。取值沿用数据侧的韩文标签。
type Level string

const (
	LevelMajor  Level = "대분류" // 大分类
	LevelMiddle Level = "중분류" // 中分类
	LevelMinor  Level = "소분류" // 小分类
)

// Item 是用户保存分类体系时提交的扁平条目。
type Item struct {
	Code        string `json:"code"`
	Level       Level  `json:"level"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Entry 是索引中的一条分类文档，带有完整的祖先链。
// 中分类条目填 Parent*（其大分类），小分类条目填 Parent*（其中分类）
// 与 GrandParent*（其大分类）。
type Entry struct {
	Code            string `json:"code"`
	Name            string `json:"name"`
	Level           Level  `json:"level"`
	Description     string `json:"description"`
	ParentCode      string `json:"parent_code,omitempty"`
	ParentName      string `json:"parent_name,omitempty"`
	GrandParentCode string `json:"grand_parent_code,omitempty"`
	GrandParentName string `json:"grand_parent_name,omitempty"`

	// Text 是嵌入用文本：各级祖先描述与自身描述的拼接。
	Text string `json:"text"`
}

// BuildDocuments 把扁平条目列表加工成带祖先链的索引文档。
// 层级归属按代码前缀匹配（如 H01 是 H01-01 的前缀）；找不到完整
// 祖先链的条目会被丢弃，大分类本身不单独成文档。
func BuildDocuments(items []Item) []Entry {
	majors := make(map[string]Item)
	middles := make(map[string]Item)
	minors := make(map[string]Item)
	var middleCodes, minorCodes []string

	for _, item := range items {
		switch item.Level {
		case LevelMajor:
			majors[item.Code] = item
		case LevelMiddle:
			middles[item.Code] = item
			middleCodes = append(middleCodes, item.Code)
		case LevelMinor:
			minors[item.Code] = item
			minorCodes = append(minorCodes, item.Code)
		}
	}

	var docs []Entry

	for _, code := range middleCodes {
		middle := middles[code]
		major, ok := findPrefixOwner(code, majors)
		if !ok {
			continue
		}
		docs = append(docs, Entry{
			Code:        code,
			Name:        middle.Name,
			Level:       LevelMiddle,
			Description: middle.Description,
			ParentCode:  major.Code,
			ParentName:  major.Name,
			Text:        major.Description + " " + middle.Description,
		})
	}

	for _, code := range minorCodes {
		minor := minors[code]
		middle, ok := findPrefixOwner(code, middles)
		if !ok {
			continue
		}
		major, ok := findPrefixOwner(middle.Code, majors)
		if !ok {
			continue
		}
		docs = append(docs, Entry{
			Code:            code,
			Name:            minor.Name,
			Level:           LevelMinor,
			Description:     minor.Description,
			ParentCode:      middle.Code,
			ParentName:      middle.Name,
			GrandParentCode: major.Code,
			GrandParentName: major.Name,
			Text:            major.Description + " " + middle.Description + " " + minor.Description,
		})
	}

	return docs
}

func findPrefixOwner(code string, candidates map[string]Item) (Item, bool) {
	var best Item
	found := false
	for prefix, item := range candidates {
		if len(prefix) < len(code) && code[:len(prefix)] == prefix {
			// 取最长前缀，防止 H1 抢走 H10-xx 的归属
			if !found || len(prefix) > len(best.Code) {
				best = item
				found = true
			}
		}
	}
	return best, found
}
