package cost

import (
	"math"
	"testing"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestCalculator_Calculate(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name     string
		model    string
		usage    domain.Usage
		expected float64
	}{
		{
			name:     "gpt-4o-mini",
			model:    "openai/gpt-4o-mini",
			usage:    domain.Usage{InputTokens: 1_000_000, OutputTokens: 500_000},
			expected: 0.15 + 0.30,
		},
		{
			name:     "claude sonnet",
			model:    "anthropic/claude-sonnet-4-5",
			usage:    domain.Usage{InputTokens: 2000, OutputTokens: 1000},
			expected: 2000.0/1e6*3 + 1000.0/1e6*15,
		},
		{
			name:     "unpriced model uses fallback rate",
			model:    "acme/unknown",
			usage:    domain.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000},
			expected: 15 + 75,
		},
		{
			name:     "missing usage costs nothing",
			model:    "openai/gpt-4o",
			usage:    domain.Usage{},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := calc.Calculate(tt.model, tt.usage)
			if !almostEqual(result, tt.expected) {
				t.Errorf("expected %f, got %f", tt.expected, result)
			}
		})
	}
}

func TestCalculator_Price(t *testing.T) {
	calc := NewCalculator()

	if _, ok := calc.Price("google/gemini-flash-3"); !ok {
		t.Error("expected gemini flash to be priced")
	}
	p, ok := calc.Price("nope/nope")
	if ok {
		t.Error("expected unknown model to be unpriced")
	}
	if p != FallbackPricing {
		t.Errorf("expected fallback pricing, got %+v", p)
	}
}

func TestCalculator_SetPricing(t *testing.T) {
	calc := NewCalculator()
	calc.SetPricing("acme/model", Pricing{InputPer1M: 1, OutputPer1M: 2})

	got := calc.Calculate("acme/model", domain.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	if !almostEqual(got, 3) {
		t.Errorf("expected 3, got %f", got)
	}

	// Instances do not share overrides.
	if _, ok := NewCalculator().Price("acme/model"); ok {
		t.Error("override leaked into a fresh calculator")
	}
}
