// Package memory gathers conversational context from three tiers under fixed
// budgets. Retrieval never fails a turn: a faulty tier is logged and skipped.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/metrics"
)

// Store is the slice of the persistence collaborator the retriever needs.
// List methods return approved and active records ordered by confidence,
// highest first.
type Store interface {
	LatestConversationSummary(ctx context.Context, userID, conversationID string) (*domain.MemoryRecord, error)
	ListProjectMemories(ctx context.Context, userID, projectID string, limit int) ([]domain.MemoryRecord, error)
	ListGlobalMemories(ctx context.Context, userID string, limit int) ([]domain.MemoryRecord, error)
	TouchMemories(ctx context.Context, ids []string, at time.Time) error
}

type Limits struct {
	SummaryChars int
	ProjectItems int
	GlobalItems  int
}

func DefaultLimits() Limits {
	return Limits{
		SummaryChars: 300,
		ProjectItems: 5,
		GlobalItems:  3,
	}
}

type Retriever struct {
	store  Store
	limits Limits
	now    func() time.Time
}

func NewRetriever(store Store, limits Limits) *Retriever {
	return &Retriever{
		store:  store,
		limits: limits,
		now:    time.Now,
	}
}

// Context is the bounded memory gathered for one turn.
type Context struct {
	Summary   string
	SummaryID string
	Project   []domain.MemoryRecord
	Global    []domain.MemoryRecord
}

func (c Context) Empty() bool {
	return c.Summary == "" && len(c.Project) == 0 && len(c.Global) == 0
}

// IDs returns the identifiers of every record that ends up in the prompt.
func (c Context) IDs() []string {
	ids := make([]string, 0, 1+len(c.Project)+len(c.Global))
	if c.Summary != "" && c.SummaryID != "" {
		ids = append(ids, c.SummaryID)
	}
	for _, m := range c.Project {
		ids = append(ids, m.ID)
	}
	for _, m := range c.Global {
		ids = append(ids, m.ID)
	}
	return ids
}

// Text renders the context as the memory block of the system prompt.
func (c Context) Text() string {
	var parts []string
	if c.Summary != "" {
		parts = append(parts, "Conversation so far:\n"+c.Summary)
	}
	if len(c.Project) > 0 {
		parts = append(parts, "About this project:\n"+bullets(c.Project))
	}
	if len(c.Global) > 0 {
		parts = append(parts, "About the user:\n"+bullets(c.Global))
	}
	return strings.Join(parts, "\n\n")
}

func bullets(records []domain.MemoryRecord) string {
	lines := make([]string, len(records))
	for i, m := range records {
		if m.Category != "" {
			lines[i] = fmt.Sprintf("- (%s) %s", m.Category, m.Content)
		} else {
			lines[i] = "- " + m.Content
		}
	}
	return strings.Join(lines, "\n")
}

// Retrieve fetches the three tiers concurrently and applies the caps. Missing
// ids skip their tier. Records that are injected get their last-used time
// refreshed on a best-effort basis.
func (r *Retriever) Retrieve(ctx context.Context, userID, projectID, conversationID string) Context {
	var (
		out Context
		wg  sync.WaitGroup
	)

	if conversationID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := r.store.LatestConversationSummary(ctx, userID, conversationID)
			if err != nil {
				r.fault(ctx, "conversation_summary", userID, err)
				return
			}
			if rec != nil && rec.Eligible() {
				out.Summary = truncate(strings.TrimSpace(rec.Content), r.limits.SummaryChars)
				out.SummaryID = rec.ID
			}
		}()
	}

	if projectID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := r.store.ListProjectMemories(ctx, userID, projectID, r.limits.ProjectItems)
			if err != nil {
				r.fault(ctx, "project", userID, err)
				return
			}
			out.Project = eligible(recs, r.limits.ProjectItems)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		recs, err := r.store.ListGlobalMemories(ctx, userID, r.limits.GlobalItems)
		if err != nil {
			r.fault(ctx, "global", userID, err)
			return
		}
		out.Global = eligible(recs, r.limits.GlobalItems)
	}()

	wg.Wait()

	if ids := out.IDs(); len(ids) > 0 {
		if err := r.store.TouchMemories(ctx, ids, r.now()); err != nil {
			slog.WarnContext(ctx, "failed to update memory last_used", "error", err, "user_id", userID, "count", len(ids))
		}
	}

	return out
}

func (r *Retriever) fault(ctx context.Context, tier, userID string, err error) {
	metrics.RecordMemoryFault(tier)
	slog.WarnContext(ctx, "memory tier unavailable", "tier", tier, "user_id", userID, "error", err)
}

// eligible filters out records that are not approved and active, then keeps
// the top limit by confidence.
func eligible(recs []domain.MemoryRecord, limit int) []domain.MemoryRecord {
	out := make([]domain.MemoryRecord, 0, len(recs))
	for _, m := range recs {
		if m.Eligible() && strings.TrimSpace(m.Content) != "" {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
