package budget

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/tokengate/types"
)

// Tier 价格档位，费率单位为 USD / 百万 Token
type Tier struct {
	MaxInputTokens *int64  `yaml:"max_input_tokens" json:"max_input_tokens"` // 包含上限，nil 表示无上限
	InputRate      float64 `yaml:"input_rate" json:"input_rate"`
	OutputRate     float64 `yaml:"output_rate" json:"output_rate"`
}

// Matches 累计输入 Token 是否落在该档位
func (t Tier) Matches(inputTokens int64) bool {
	return t.MaxInputTokens == nil || *t.MaxInputTokens >= inputTokens
}

// Cost 按该档位费率计算成本
func (t Tier) Cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1e6*t.InputRate + float64(outputTokens)/1e6*t.OutputRate
}

// PricingTable 模型 -> 有序价格档位
type PricingTable map[string][]Tier

func ceiling(n int64) *int64 { return &n }

// DefaultPricing 返回内置价格表
func DefaultPricing() PricingTable {
	return PricingTable{
		"gemini-3-pro-preview": {
			{MaxInputTokens: ceiling(200_000), InputRate: 2.0, OutputRate: 12.0},
			{InputRate: 4.0, OutputRate: 18.0},
		},
		"gemini-2.5-pro": {
			{MaxInputTokens: ceiling(200_000), InputRate: 1.25, OutputRate: 10.0},
			{InputRate: 2.5, OutputRate: 15.0},
		},
		"gemini-2.5-flash": {
			{InputRate: 0.30, OutputRate: 2.50},
		},
	}
}

// Lookup 返回首个匹配的档位。模型标识大小写不敏感。
func (p PricingTable) Lookup(model string, inputTokens int64) (Tier, error) {
	tiers, ok := p[strings.ToLower(model)]
	if !ok || len(tiers) == 0 {
		return Tier{}, types.Errorf(types.ErrUnsupportedModel, "no pricing table for model %q", model).WithModel(model)
	}
	for _, t := range tiers {
		if t.Matches(inputTokens) {
			return t, nil
		}
	}
	return Tier{}, types.Errorf(types.ErrUnsupportedModel,
		"no pricing tier for model %q at %d input tokens", model, inputTokens).WithModel(model)
}

// Merge 用 overrides 覆盖同名模型，返回新表
func (p PricingTable) Merge(overrides PricingTable) PricingTable {
	out := make(PricingTable, len(p)+len(overrides))
	for k, v := range p {
		out[strings.ToLower(k)] = v
	}
	for k, v := range overrides {
		out[strings.ToLower(k)] = v
	}
	return out
}

// ParsePricing 从 YAML 读取价格表
//
//	gemini-2.5-flash:
//	  - input_rate: 0.3
//	    output_rate: 2.5
func ParsePricing(r io.Reader) (PricingTable, error) {
	var raw PricingTable
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return PricingTable{}, nil
		}
		return nil, fmt.Errorf("decode pricing: %w", err)
	}
	return PricingTable{}.Merge(raw), nil
}

// LoadPricingFile 读取价格文件并叠加到默认价格表之上
func LoadPricingFile(path string) (PricingTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pricing file: %w", err)
	}
	defer f.Close()

	overrides, err := ParsePricing(f)
	if err != nil {
		return nil, err
	}
	return DefaultPricing().Merge(overrides), nil
}
