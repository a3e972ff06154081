package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	projects map[string]domain.Project
	memories map[string]domain.MemoryRecord
	events   map[string]domain.UsageEvent
	daily    map[string]*domain.DailyUsageAggregate
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts: make(map[string]Account),
		projects: make(map[string]domain.Project),
		memories: make(map[string]domain.MemoryRecord),
		events:   make(map[string]domain.UsageEvent),
		daily:    make(map[string]*domain.DailyUsageAggregate),
		now:      time.Now,
	}
}

func dailyKey(userID, date string) string {
	return userID + "|" + date
}

func (s *InMemoryStore) SaveAccount(ctx context.Context, a Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.UserID] = a
	return nil
}

func (s *InMemoryStore) SaveProject(ctx context.Context, p domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
	return nil
}

func (s *InMemoryStore) SaveMemory(ctx context.Context, m domain.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.memories[m.ID] = m
	return nil
}

func (s *InMemoryStore) GetBudgetState(ctx context.Context, userID string) (*domain.BudgetState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}

	state := &domain.BudgetState{
		UserID:        userID,
		DailyBudget:   a.DailyBudget,
		CreditBalance: a.CreditBalance,
		CreditLimit:   a.CreditLimit,
	}
	if agg, ok := s.daily[dailyKey(userID, s.now().UTC().Format(time.DateOnly))]; ok {
		state.DailySpend = agg.TotalCost
	}
	return state, nil
}

func (s *InMemoryStore) GetProject(ctx context.Context, userID, projectID string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectID]
	if !ok || p.OwnerID != userID {
		return nil, domain.ErrProjectNotFound
	}
	return &p, nil
}

func (s *InMemoryStore) ProjectSpendSince(ctx context.Context, projectID string, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	for _, e := range s.events {
		if e.ProjectID == projectID && !e.CreatedAt.Before(since) {
			total += e.Cost
		}
	}
	return total, nil
}

func (s *InMemoryStore) LatestConversationSummary(ctx context.Context, userID, conversationID string) (*domain.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.MemoryRecord
	for _, m := range s.memories {
		if m.UserID != userID || m.ConversationID != conversationID || m.Scope != domain.ScopeConversationSummary || !m.Eligible() {
			continue
		}
		if latest == nil || m.CreatedAt.After(latest.CreatedAt) {
			m := m
			latest = &m
		}
	}
	return latest, nil
}

func (s *InMemoryStore) ListProjectMemories(ctx context.Context, userID, projectID string, limit int) ([]domain.MemoryRecord, error) {
	return s.list(limit, func(m domain.MemoryRecord) bool {
		return m.UserID == userID && m.ProjectID == projectID && m.Scope == domain.ScopeProject
	}), nil
}

func (s *InMemoryStore) ListGlobalMemories(ctx context.Context, userID string, limit int) ([]domain.MemoryRecord, error) {
	return s.list(limit, func(m domain.MemoryRecord) bool {
		return m.UserID == userID && m.Scope == domain.ScopeGlobal
	}), nil
}

func (s *InMemoryStore) list(limit int, match func(domain.MemoryRecord) bool) []domain.MemoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.MemoryRecord
	for _, m := range s.memories {
		if m.Eligible() && match(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *InMemoryStore) TouchMemories(ctx context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if m, ok := s.memories[id]; ok {
			t := at
			m.LastUsed = &t
			s.memories[id] = m
		}
	}
	return nil
}

func (s *InMemoryStore) GetMemory(id string) (domain.MemoryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	return m, ok
}

func (s *InMemoryStore) RecordUsageEvent(ctx context.Context, e domain.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return domain.ErrDuplicateUsageEvent
	}
	s.events[e.ID] = e
	return nil
}

func (s *InMemoryStore) AddDailyUsage(ctx context.Context, userID, date string, tokens int, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dailyKey(userID, date)
	agg, ok := s.daily[key]
	if !ok {
		agg = &domain.DailyUsageAggregate{UserID: userID, Date: date}
		s.daily[key] = agg
	}
	agg.TotalTokens += int64(tokens)
	agg.TotalCost += cost
	agg.MessageCount++
	return nil
}

func (s *InMemoryStore) ChargeCredits(ctx context.Context, userID string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		a = Account{UserID: userID}
	}
	a.CreditBalance += amount
	s.accounts[userID] = a
	return nil
}

func (s *InMemoryStore) DailyUsage(ctx context.Context, userID, date string) (*domain.DailyUsageAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.daily[dailyKey(userID, date)]
	if !ok {
		return nil, nil
	}
	out := *agg
	return &out, nil
}

func (s *InMemoryStore) UsageEvents() []domain.UsageEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UsageEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
