// Package cost prices reconciled token usage.
package cost

import (
	"sync"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
)

// Pricing is in account currency units per one million tokens.
type Pricing struct {
	InputPer1M  float64 `yaml:"input_per_1m"`
	OutputPer1M float64 `yaml:"output_per_1m"`
}

// FallbackPricing applies to unpriced models and matches the most expensive
// tier on the market.
var FallbackPricing = Pricing{InputPer1M: 15, OutputPer1M: 75}

var defaultPricing = map[string]Pricing{
	"google/gemini-flash-3":       {InputPer1M: 0.50, OutputPer1M: 3.00},
	"google/gemini-pro-3":         {InputPer1M: 2.00, OutputPer1M: 12.00},
	"openai/gpt-4o-mini":          {InputPer1M: 0.15, OutputPer1M: 0.60},
	"openai/gpt-4o":               {InputPer1M: 2.50, OutputPer1M: 10.00},
	"anthropic/claude-sonnet-4-5": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"anthropic/claude-haiku-4-5":  {InputPer1M: 1.00, OutputPer1M: 5.00},
	"bedrock/claude-sonnet-4-5":   {InputPer1M: 3.00, OutputPer1M: 15.00},
}

type Calculator struct {
	mu      sync.RWMutex
	pricing map[string]Pricing
}

func NewCalculator() *Calculator {
	pricing := make(map[string]Pricing, len(defaultPricing))
	for id, p := range defaultPricing {
		pricing[id] = p
	}
	return &Calculator{pricing: pricing}
}

// Price returns the pricing for a portable model id and whether it was found.
func (c *Calculator) Price(model string) (Pricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.pricing[model]
	if !ok {
		return FallbackPricing, false
	}
	return p, true
}

func (c *Calculator) Calculate(model string, usage domain.Usage) float64 {
	p, _ := c.Price(model)
	return float64(usage.InputTokens)/1e6*p.InputPer1M + float64(usage.OutputTokens)/1e6*p.OutputPer1M
}

func (c *Calculator) SetPricing(model string, p Pricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[model] = p
}
