package identity

import (
	"context"
	"strings"
	"sync"
)

// MemoryAccounts is an in-memory AccountSource keyed by email, for tests and
// single-node bootstrap.
type MemoryAccounts struct {
	mu      sync.RWMutex
	byEmail map[string]*Account
}

// NewMemoryAccounts returns an empty in-memory account source.
func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{byEmail: make(map[string]*Account)}
}

// Add registers an account, replacing any prior account with the same email.
func (m *MemoryAccounts) Add(acct Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEmail[strings.ToLower(acct.Email)] = &acct
}

// FindByIdentifier looks up an account by email, case-insensitively.
func (m *MemoryAccounts) FindByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.byEmail[strings.ToLower(identifier)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}
