package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aelexs/verification-gateway/internal/domain"
	"github.com/aelexs/verification-gateway/internal/verification/app"
)

type memoryAccount struct {
	account       app.Account
	welcomeSentAt time.Time
}

// MemoryAccountStore is an in-process app.AccountStore for local runs and
// tests. Accounts are created with Create; there is no other write path.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*memoryAccount
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]*memoryAccount)}
}

// Create adds an unverified account with the given phone and email. Either
// may be empty.
func (s *MemoryAccountStore) Create(phone, email string) app.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := app.Account{ID: uuid.NewString(), Phone: phone, Email: email}
	s.accounts[a.ID] = &memoryAccount{account: a}
	return a
}

// Get returns a copy of the account by ID.
func (s *MemoryAccountStore) Get(accountID string) (app.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.accounts[accountID]
	if !ok {
		return app.Account{}, false
	}
	return m.account, true
}

func (s *MemoryAccountStore) FindByIdentifier(_ context.Context, id domain.Identifier) (*app.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.accounts {
		match := m.account.Phone == id.String()
		if id.Channel() == domain.ChannelEmail {
			match = m.account.Email == id.String()
		}
		if match {
			a := m.account
			return &a, nil
		}
	}
	return nil, fmt.Errorf("account store: find: %w", domain.ErrNotFound)
}

func (s *MemoryAccountStore) MarkVerified(_ context.Context, accountID string, channel domain.Channel) (*app.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account store: mark verified: %w", domain.ErrNotFound)
	}
	if channel == domain.ChannelEmail {
		m.account.EmailVerified = true
	} else {
		m.account.PhoneVerified = true
	}
	a := m.account
	return &a, nil
}

func (s *MemoryAccountStore) ClaimWelcome(_ context.Context, accountID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.accounts[accountID]
	if !ok {
		return false, fmt.Errorf("account store: claim welcome: %w", domain.ErrNotFound)
	}
	if !m.welcomeSentAt.IsZero() {
		return false, nil
	}
	m.welcomeSentAt = at
	return true, nil
}
