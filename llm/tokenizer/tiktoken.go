package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 基于 tiktoken 的 BPE 计数。
// 对非 OpenAI 模型只作近似，用于缓存大小预估已足够.
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int
	enc       *tiktoken.Tiktoken
	once      sync.Once
	initErr   error
}

type encodingInfo struct {
	encoding  string
	maxTokens int
}

// modelEncodings 模型前缀 -> 编码与上下文大小
var modelEncodings = map[string]encodingInfo{
	"gemini-3-pro":     {encoding: "o200k_base", maxTokens: 1_048_576},
	"gemini-2.5-pro":   {encoding: "o200k_base", maxTokens: 1_048_576},
	"gemini-2.5-flash": {encoding: "o200k_base", maxTokens: 1_048_576},
	"gpt-4o":           {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4":            {encoding: "cl100k_base", maxTokens: 8192},
}

// NewTiktokenTokenizer 为给定模型创建 tiktoken 分词器，未知模型使用 cl100k_base.
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	lower := strings.ToLower(model)
	info, ok := modelEncodings[lower]
	if !ok {
		bestLen := 0
		for prefix, i := range modelEncodings {
			if strings.HasPrefix(lower, prefix) && len(prefix) > bestLen {
				info, bestLen, ok = i, len(prefix), true
			}
		}
	}
	if !ok {
		info = encodingInfo{encoding: "cl100k_base", maxTokens: 8192}
	}

	return &TiktokenTokenizer{
		model:     model,
		encoding:  info.encoding,
		maxTokens: info.maxTokens,
	}
}

// init 延迟加载编码（首次使用时可能下载 BPE 数据）.
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) MaxTokens() int {
	return t.maxTokens
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// Encoding 返回使用的编码名
func (t *TiktokenTokenizer) Encoding() string {
	return t.encoding
}

// RegisterTiktokenTokenizers 为所有已知模型前缀注册 tiktoken 分词器。
func RegisterTiktokenTokenizers() {
	for model := range modelEncodings {
		RegisterTokenizer(model, NewTiktokenTokenizer(model))
	}
}
