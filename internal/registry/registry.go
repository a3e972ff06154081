// Package registry holds the immutable table of portable model identifiers.
// A Registry is built once at process start and shared read-only by all turns.
package registry

import (
	"fmt"
	"os"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"gopkg.in/yaml.v3"
)

// Tier is the per-mode routing policy: which model a mode prefers and how
// many output tokens it may ask for.
type Tier struct {
	DefaultModel string `yaml:"default_model"`
	MaxTokens    int    `yaml:"max_tokens"`
}

var defaultModels = []domain.ModelDescriptor{
	{
		ID:              "google/gemini-flash-3",
		Provider:        domain.ProviderGoogle,
		NativeName:      "gemini-3-flash-preview",
		MaxOutputTokens: 8192,
		DisplayName:     domain.LocalizedText{En: "Gemini Flash", Ar: "جيميني فلاش"},
	},
	{
		ID:              "google/gemini-pro-3",
		Provider:        domain.ProviderGoogle,
		NativeName:      "gemini-3-pro-preview",
		MaxOutputTokens: 32768,
		DisplayName:     domain.LocalizedText{En: "Gemini Pro", Ar: "جيميني برو"},
	},
	{
		ID:              "openai/gpt-4o-mini",
		Provider:        domain.ProviderOpenAI,
		NativeName:      "gpt-4o-mini",
		MaxOutputTokens: 16384,
		DisplayName:     domain.LocalizedText{En: "GPT-4o mini", Ar: "جي بي تي 4o ميني"},
	},
	{
		ID:              "openai/gpt-4o",
		Provider:        domain.ProviderOpenAI,
		NativeName:      "gpt-4o",
		MaxOutputTokens: 16384,
		DisplayName:     domain.LocalizedText{En: "GPT-4o", Ar: "جي بي تي 4o"},
	},
	{
		ID:              "anthropic/claude-sonnet-4-5",
		Provider:        domain.ProviderAnthropic,
		NativeName:      "claude-sonnet-4-5",
		MaxOutputTokens: 8192,
		DisplayName:     domain.LocalizedText{En: "Claude Sonnet", Ar: "كلود سونيت"},
	},
	{
		ID:              "anthropic/claude-haiku-4-5",
		Provider:        domain.ProviderAnthropic,
		NativeName:      "claude-haiku-4-5",
		MaxOutputTokens: 8192,
		DisplayName:     domain.LocalizedText{En: "Claude Haiku", Ar: "كلود هايكو"},
	},
	{
		ID:              "bedrock/claude-sonnet-4-5",
		Provider:        domain.ProviderBedrock,
		NativeName:      "anthropic.claude-sonnet-4-5-20250929-v1:0",
		MaxOutputTokens: 8192,
		DisplayName:     domain.LocalizedText{En: "Claude Sonnet (Bedrock)", Ar: "كلود سونيت (بيدروك)"},
	},
}

var defaultTiers = map[domain.Mode]Tier{
	domain.ModeFast:     {DefaultModel: "google/gemini-flash-3", MaxTokens: 2048},
	domain.ModeStandard: {DefaultModel: "openai/gpt-4o-mini", MaxTokens: 4096},
	domain.ModeDeep:     {DefaultModel: "anthropic/claude-sonnet-4-5", MaxTokens: 8192},
	domain.ModePro:      {DefaultModel: "openai/gpt-4o", MaxTokens: 8192},
	domain.ModeResearch: {DefaultModel: "google/gemini-pro-3", MaxTokens: 16384},
}

type Registry struct {
	models []domain.ModelDescriptor
	byID   map[string]int
	tiers  map[domain.Mode]Tier
}

// New validates and indexes the given descriptors. Registry order is kept:
// it decides which model substitutes for an unavailable one.
func New(models []domain.ModelDescriptor, tiers map[domain.Mode]Tier) (*Registry, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("registry: no models")
	}

	r := &Registry{
		models: make([]domain.ModelDescriptor, len(models)),
		byID:   make(map[string]int, len(models)),
		tiers:  make(map[domain.Mode]Tier, len(tiers)),
	}
	copy(r.models, models)

	for i, m := range r.models {
		if m.ID == "" || m.NativeName == "" || m.Provider == "" {
			return nil, fmt.Errorf("registry: model %d is missing id, provider or native name", i)
		}
		if m.MaxOutputTokens <= 0 {
			return nil, fmt.Errorf("registry: model %s has no max_output_tokens", m.ID)
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate model id %s", m.ID)
		}
		r.byID[m.ID] = i
	}

	for mode, tier := range tiers {
		if _, ok := r.byID[tier.DefaultModel]; !ok {
			return nil, fmt.Errorf("registry: mode %s defaults to unknown model %s", mode, tier.DefaultModel)
		}
		r.tiers[mode] = tier
	}
	if _, ok := r.tiers[domain.ModeStandard]; !ok {
		return nil, fmt.Errorf("registry: no tier for mode %s", domain.ModeStandard)
	}

	return r, nil
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := New(defaultModels, defaultTiers)
	if err != nil {
		panic(err)
	}
	return r
}

type fileFormat struct {
	Models []domain.ModelDescriptor `yaml:"models"`
	Tiers  map[domain.Mode]Tier     `yaml:"tiers"`
}

// LoadFile reads a registry from YAML. Tiers missing from the file fall back
// to the built-in ones.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry file: %w", err)
	}

	tiers := make(map[domain.Mode]Tier, len(defaultTiers))
	for mode, tier := range defaultTiers {
		tiers[mode] = tier
	}
	for mode, tier := range f.Tiers {
		tiers[mode] = tier
	}

	return New(f.Models, tiers)
}

func (r *Registry) Resolve(id string) (domain.ModelDescriptor, error) {
	i, ok := r.byID[id]
	if !ok {
		return domain.ModelDescriptor{}, domain.ErrModelNotFound
	}
	return r.models[i], nil
}

// ListAvailable returns the models whose provider has a credential, in
// registry order.
func (r *Registry) ListAvailable(configured func(domain.Provider) bool) []domain.ModelDescriptor {
	var out []domain.ModelDescriptor
	for _, m := range r.models {
		if configured(m.Provider) {
			out = append(out, m)
		}
	}
	return out
}

// Tier returns the routing policy for mode, treating unknown modes as standard.
func (r *Registry) Tier(mode domain.Mode) Tier {
	if t, ok := r.tiers[mode]; ok {
		return t
	}
	return r.tiers[domain.ModeStandard]
}

// Validate fails when an entry names a provider that has no adapter.
func (r *Registry) Validate(supported func(domain.Provider) bool) error {
	for _, m := range r.models {
		if !supported(m.Provider) {
			return fmt.Errorf("registry: model %s uses provider %s which has no adapter", m.ID, m.Provider)
		}
	}
	return nil
}

// MaxTokens is the output ceiling for a model under a mode. It never exceeds
// the descriptor's own limit.
func (r *Registry) MaxTokens(mode domain.Mode, m domain.ModelDescriptor) int {
	limit := r.Tier(mode).MaxTokens
	if limit <= 0 || limit > m.MaxOutputTokens {
		return m.MaxOutputTokens
	}
	return limit
}
