// Package repository is the persistence collaborator: accounts, projects,
// memories and usage. PostgresStore backs production; InMemoryStore serves
// local runs and tests.
package repository

import (
	"github.com/felipepmaragno/chat-gateway/internal/budget"
	"github.com/felipepmaragno/chat-gateway/internal/memory"
	"github.com/felipepmaragno/chat-gateway/internal/usage"
)

// Store is everything the gateway reads and writes.
type Store interface {
	budget.StateReader
	memory.Store
	usage.Store
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*InMemoryStore)(nil)
)

// Account is the configurable part of a user's budget. Nil limits fall back
// to the gateway defaults.
type Account struct {
	UserID        string
	DailyBudget   *float64
	CreditBalance float64
	CreditLimit   *float64
}
