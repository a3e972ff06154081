package domain

import "time"

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// WireFormat identifies the streaming envelope a provider answers with.
type WireFormat string

const (
	WireOpenAI    WireFormat = "openai"
	WireGoogle    WireFormat = "google"
	WireAnthropic WireFormat = "anthropic"
)

type Mode string

const (
	ModeFast     Mode = "fast"
	ModeStandard Mode = "standard"
	ModeDeep     Mode = "deep"
	ModePro      Mode = "pro"
	ModeResearch Mode = "research"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeFast, ModeStandard, ModeDeep, ModePro, ModeResearch:
		return true
	}
	return false
}

type LocalizedText struct {
	En string `json:"en" yaml:"en"`
	Ar string `json:"ar" yaml:"ar"`
}

type ModelDescriptor struct {
	ID              string        `json:"id" yaml:"id"`
	Provider        Provider      `json:"provider" yaml:"provider"`
	NativeName      string        `json:"native_model_name" yaml:"native_model_name"`
	MaxOutputTokens int           `json:"max_output_tokens" yaml:"max_output_tokens"`
	DisplayName     LocalizedText `json:"display_name" yaml:"display_name"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type DialectOptions struct {
	Formality   string `json:"formality,omitempty"`
	CodeSwitch  string `json:"codeSwitch,omitempty"`
	NumeralMode string `json:"numeralMode,omitempty"`
}

// ChatTurnRequest is the inbound body of POST /chat.
type ChatTurnRequest struct {
	Messages           []Message       `json:"messages"`
	Mode               Mode            `json:"mode"`
	ProjectID          string          `json:"project_id,omitempty"`
	ConversationID     string          `json:"conversation_id,omitempty"`
	SystemInstructions string          `json:"system_instructions,omitempty"`
	MemoryContext      string          `json:"memory_context,omitempty"`
	Dialect            string          `json:"dialect,omitempty"`
	Model              string          `json:"model,omitempty"`
	DialectOptions     *DialectOptions `json:"dialect_options,omitempty"`
}

// BudgetState is a per-request snapshot of an account's spend. Nil limits
// mean the account row carries no explicit value and defaults apply.
type BudgetState struct {
	UserID        string
	DailySpend    float64
	DailyBudget   *float64
	CreditBalance float64
	CreditLimit   *float64
}

type Project struct {
	ID           string
	OwnerID      string
	Name         string
	Instructions string
	BudgetLimit  *float64
}

type MemoryScope string

const (
	ScopeGlobal              MemoryScope = "global"
	ScopeProject             MemoryScope = "project"
	ScopeConversationSummary MemoryScope = "conversation_summary"
)

type ApprovalStatus string

const (
	StatusProposed ApprovalStatus = "proposed"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

type MemoryRecord struct {
	ID             string
	UserID         string
	ProjectID      string
	ConversationID string
	Content        string
	Category       string
	Scope          MemoryScope
	Status         ApprovalStatus
	Active         bool
	Confidence     float64
	LastUsed       *time.Time
	CreatedAt      time.Time
}

// Eligible reports whether the record may be injected into a prompt.
func (m MemoryRecord) Eligible() bool {
	return m.Status == StatusApproved && m.Active
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

type UsageEvent struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	ProjectID    string         `json:"project_id,omitempty"`
	Model        string         `json:"model"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	TotalTokens  int            `json:"total_tokens"`
	Cost         float64        `json:"cost"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type DailyUsageAggregate struct {
	UserID       string
	Date         string
	TotalTokens  int64
	TotalCost    float64
	MessageCount int64
}

// StreamChunk is the canonical event frame sent to the client.
type StreamChunk struct {
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Delta Delta `json:"delta"`
}

type Delta struct {
	Content string `json:"content"`
}

type ModelInfo struct {
	ID          string        `json:"id"`
	Provider    Provider      `json:"provider"`
	DisplayName LocalizedText `json:"display_name"`
	MaxTokens   int           `json:"max_output_tokens"`
}

type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}
