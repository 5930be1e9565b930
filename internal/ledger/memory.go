package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/sabalioglu/ai-ugc/internal/domain"
)

// Memory is an in-process ledger with the same idempotency rules as Postgres.
type Memory struct {
	mu       sync.Mutex
	balances map[string]int
	deducted map[string]int
	refunded map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		balances: map[string]int{},
		deducted: map[string]int{},
		refunded: map[string]int{},
	}
}

func (m *Memory) Deduct(ctx context.Context, userID, jobID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deducted[jobID]; ok {
		return fmt.Errorf("%w: job %s already charged", domain.ErrConflict, jobID)
	}
	if m.balances[userID] < amount {
		return fmt.Errorf("%w: %d credits required", domain.ErrInsufficientFunds, amount)
	}
	m.balances[userID] -= amount
	m.deducted[jobID] = amount
	return nil
}

func (m *Memory) Refund(ctx context.Context, userID, jobID string, amount int) (bool, error) {
	if amount <= 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refunded[jobID]; ok {
		return false, nil
	}
	m.refunded[jobID] = amount
	m.balances[userID] += amount
	return true, nil
}

func (m *Memory) Balance(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *Memory) Grant(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	return m.balances[userID], nil
}

// Refunds returns how many refunds were recorded for jobID (0 or 1).
func (m *Memory) Refunds(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refunded[jobID]; ok {
		return 1
	}
	return 0
}

var _ domain.CreditLedger = (*Memory)(nil)
