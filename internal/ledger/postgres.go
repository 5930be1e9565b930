package ledger

import (
	"context"
	"fmt"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/infra"
	"github.com/sabalioglu/ai-ugc/internal/sqlinline"
)

// Postgres keeps balances in user_credits and one transaction row per job
// and kind, which makes both deduction and refund idempotent per job.
type Postgres struct {
	sql infra.SQLExecutor
}

func NewPostgres(sql infra.SQLExecutor) *Postgres {
	return &Postgres{sql: sql}
}

func (l *Postgres) Deduct(ctx context.Context, userID, jobID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	var balance int
	err := l.sql.QueryRow(ctx, sqlinline.QDeductCredits, userID, jobID, amount).Scan(&balance)
	switch {
	case err == nil:
		return nil
	case infra.IsNoRows(err):
		return fmt.Errorf("%w: %d credits required", domain.ErrInsufficientFunds, amount)
	case infra.IsUniqueViolation(err):
		return fmt.Errorf("%w: job %s already charged", domain.ErrConflict, jobID)
	default:
		return err
	}
}

func (l *Postgres) Refund(ctx context.Context, userID, jobID string, amount int) (bool, error) {
	if amount <= 0 {
		return false, nil
	}
	var inserted int
	if err := l.sql.QueryRow(ctx, sqlinline.QRefundCredits, userID, jobID, amount).Scan(&inserted); err != nil {
		return false, err
	}
	return inserted > 0, nil
}

// Balance returns the user's current balance; unknown users have zero.
func (l *Postgres) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	if err := l.sql.QueryRow(ctx, sqlinline.QSelectBalance, userID).Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

// Grant adds amount to the user's balance and returns the new balance.
func (l *Postgres) Grant(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	var balance int
	if err := l.sql.QueryRow(ctx, sqlinline.QGrantCredits, userID, amount).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

var _ domain.CreditLedger = (*Postgres)(nil)
