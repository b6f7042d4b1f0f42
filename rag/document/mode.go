package document

import "strings"

// DocType is the corpus partition a passage belongs to.
type DocType string

const (
	DocTypeESG  DocType = "esg"
	DocTypeNews DocType = "news"
)

// Mode selects which partition of the corpus a query targets.
type Mode string

const (
	ModeESG  Mode = "esg"
	ModeNews Mode = "news"
	ModeAll  Mode = "all"
)

// ParseMode normalises a caller supplied mode. Unknown or empty values
// become ModeAll.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeESG:
		return ModeESG
	case ModeNews:
		return ModeNews
	default:
		return ModeAll
	}
}

// DocType returns the doc_type a mode pins, or "" for ModeAll.
func (m Mode) DocType() DocType {
	switch m {
	case ModeESG:
		return DocTypeESG
	case ModeNews:
		return DocTypeNews
	}
	return ""
}

// Guidance collapses a mode to the partition used for guidance sampling:
// news stays news, everything else samples ESG metadata.
func (m Mode) Guidance() Mode {
	if m == ModeNews {
		return ModeNews
	}
	return ModeESG
}

// Label is the human readable source label used in answer prompts.
func (m Mode) Label() string {
	switch m {
	case ModeESG:
		return "ESG 數據"
	case ModeNews:
		return "新聞資訊"
	default:
		return "全部資料"
	}
}
