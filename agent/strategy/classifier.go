package strategy

import (
	"strings"

	"github.com/BaSui01/tokengate/types"
)

// Mode 策略模式
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeFast Mode = "fast"
	ModeDeep Mode = "deep"
)

// ParseMode 解析模式字符串，大小写不敏感
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeFast, ModeDeep:
		return m, nil
	case "":
		return ModeAuto, nil
	default:
		return "", types.Errorf(types.ErrInvalidRequest, "unknown strategy mode %q (want auto, fast or deep)", s)
	}
}

// DefaultMaxFastWords 超过该词数的描述判为 deep
const DefaultMaxFastWords = 50

// DefaultDeepKeywords 表示因果、比较或分析意图的关键词
var DefaultDeepKeywords = []string{
	"why",
	"cause",
	"because",
	"compare",
	"comparison",
	"versus",
	"difference",
	"analyze",
	"analyse",
	"analysis",
	"explain",
	"relationship",
	"impact",
	"trade-off",
	"tradeoff",
	"implication",
}

// Classifier 任务分类器
type Classifier interface {
	Classify(description string) Mode
}

// KeywordClassifier 关键词 + 长度启发式分类，结果确定
type KeywordClassifier struct {
	keywords     []string
	maxFastWords int
}

// NewKeywordClassifier keywords 为空时使用默认集合，maxFastWords <= 0 时使用 50
func NewKeywordClassifier(keywords []string, maxFastWords int) *KeywordClassifier {
	if len(keywords) == 0 {
		keywords = DefaultDeepKeywords
	}
	if maxFastWords <= 0 {
		maxFastWords = DefaultMaxFastWords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &KeywordClassifier{keywords: lowered, maxFastWords: maxFastWords}
}

// Classify 任一关键词以子串形式出现，或词数超过上限，判为 deep
func (c *KeywordClassifier) Classify(description string) Mode {
	lower := strings.ToLower(description)
	for _, k := range c.keywords {
		if strings.Contains(lower, k) {
			return ModeDeep
		}
	}
	if len(strings.Fields(description)) > c.maxFastWords {
		return ModeDeep
	}
	return ModeFast
}
