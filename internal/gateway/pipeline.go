// Package gateway prepares a chat turn for dispatch: budget, model, dialect,
// memory and the composed system prompt. Anything it rejects never reaches a
// provider.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/felipepmaragno/chat-gateway/internal/budget"
	"github.com/felipepmaragno/chat-gateway/internal/dialect"
	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/memory"
	"github.com/felipepmaragno/chat-gateway/internal/metrics"
	"github.com/felipepmaragno/chat-gateway/internal/prompt"
	"github.com/felipepmaragno/chat-gateway/internal/registry"
	"github.com/felipepmaragno/chat-gateway/internal/telemetry"
)

const (
	maxClientInstructions = 4000
	maxClientMemory       = 1000
)

type ProjectReader interface {
	GetProject(ctx context.Context, userID, projectID string) (*domain.Project, error)
}

type Config struct {
	Budget     *budget.Guard
	Registry   *registry.Registry
	Configured func(domain.Provider) bool
	Memory     *memory.Retriever
	Projects   ProjectReader
	Identity   prompt.Identity
}

type Pipeline struct {
	budget     *budget.Guard
	registry   *registry.Registry
	configured func(domain.Provider) bool
	memory     *memory.Retriever
	projects   ProjectReader
	identity   prompt.Identity
}

func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{
		budget:     cfg.Budget,
		registry:   cfg.Registry,
		configured: cfg.Configured,
		memory:     cfg.Memory,
		projects:   cfg.Projects,
		identity:   cfg.Identity,
	}
}

// Turn is a request that passed every gate and is ready for a provider.
type Turn struct {
	RequestID   string
	UserID      string
	ProjectID   string
	Mode        domain.Mode
	Model       domain.ModelDescriptor
	Requested   string
	Substituted bool
	Dialect     dialect.Selection
	MaxTokens   int
	Messages    []domain.Message
	Warning     *budget.Warning
	MemoryIDs   []string
}

// Metadata is what the usage event records about the turn.
func (t *Turn) Metadata() map[string]any {
	md := map[string]any{
		"mode":    string(t.Mode),
		"dialect": string(t.Dialect.Dialect),
	}
	if t.Dialect.Detection != nil {
		md["dialect_confidence"] = string(t.Dialect.Detection.Confidence)
	}
	if t.Substituted {
		md["requested_model"] = t.Requested
	}
	return md
}

// Prepare runs the pre-dispatch steps in order. Budget denials come back as
// *budget.ExceededError, a missing provider as domain.ErrNoProviders and a
// malformed body as domain.ErrInvalidRequest.
func (p *Pipeline) Prepare(ctx context.Context, requestID, userID string, req domain.ChatTurnRequest) (*Turn, error) {
	msgs, err := Sanitize(req.Messages)
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	if !mode.Valid() {
		mode = domain.ModeStandard
	}

	turn := &Turn{
		RequestID: requestID,
		UserID:    userID,
		ProjectID: req.ProjectID,
		Mode:      mode,
	}

	if err := p.checkBudget(ctx, turn); err != nil {
		return nil, err
	}

	res, err := p.registry.Select(req.Model, mode, p.configured)
	if err != nil {
		return nil, err
	}
	if res.Substituted {
		metrics.RecordModelSubstitution(res.Requested, res.Model.ID)
	}
	turn.Model = res.Model
	turn.Requested = res.Requested
	turn.Substituted = res.Substituted
	turn.MaxTokens = p.registry.MaxTokens(mode, res.Model)

	turn.Dialect = dialect.Resolve(req.Dialect, lastUserText(msgs))
	if det := turn.Dialect.Detection; det != nil {
		metrics.RecordDialect(string(det.Dialect), string(det.Confidence))
	}

	instructions, mem := p.gatherContext(ctx, userID, req)
	turn.MemoryIDs = mem.IDs()

	memoryText := mem.Text()
	if memoryText == "" {
		memoryText = truncate(strings.TrimSpace(req.MemoryContext), maxClientMemory)
	}
	if instructions == "" {
		instructions = truncate(strings.TrimSpace(req.SystemInstructions), maxClientInstructions)
	}

	style := prompt.NormalizeStyle(req.DialectOptions, turn.Dialect.Dialect)
	system := prompt.Compose(p.identity, turn.Dialect.Dialect, style, instructions, memoryText)

	turn.Messages = make([]domain.Message, 0, len(msgs)+1)
	turn.Messages = append(turn.Messages, domain.Message{Role: domain.RoleSystem, Content: system})
	turn.Messages = append(turn.Messages, msgs...)

	return turn, nil
}

func (p *Pipeline) checkBudget(ctx context.Context, turn *Turn) error {
	ctx, span := telemetry.StartSpan(ctx, "budget.check")
	defer span.End()

	decision, err := p.budget.Check(ctx, turn.UserID, turn.ProjectID)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		return err
	}
	turn.Warning = decision.Warning
	return nil
}

// gatherContext loads the stored project instructions and the memory tiers
// concurrently. Neither can fail the turn.
func (p *Pipeline) gatherContext(ctx context.Context, userID string, req domain.ChatTurnRequest) (string, memory.Context) {
	ctx, span := telemetry.StartSpan(ctx, "memory.retrieve")
	defer span.End()

	var (
		instructions string
		mem          memory.Context
		wg           sync.WaitGroup
	)

	if req.ProjectID != "" && p.projects != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			project, err := p.projects.GetProject(ctx, userID, req.ProjectID)
			if err != nil {
				if !errors.Is(err, domain.ErrProjectNotFound) {
					slog.WarnContext(ctx, "failed to load project instructions", "project_id", req.ProjectID, "error", err)
				}
				return
			}
			instructions = strings.TrimSpace(project.Instructions)
		}()
	}

	if p.memory != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mem = p.memory.Retrieve(ctx, userID, req.ProjectID, req.ConversationID)
		}()
	}

	wg.Wait()
	return instructions, mem
}

// Sanitize keeps only user and assistant turns with content. At least one
// user message must remain.
func Sanitize(in []domain.Message) ([]domain.Message, error) {
	out := make([]domain.Message, 0, len(in))
	hasUser := false
	for _, m := range in {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role == domain.RoleUser {
			hasUser = true
		}
		out = append(out, m)
	}
	if !hasUser {
		return nil, fmt.Errorf("%w: at least one user message is required", domain.ErrInvalidRequest)
	}
	return out, nil
}

func lastUserText(msgs []domain.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
