package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sabalioglu/ai-ugc/internal/infra"
	"github.com/sabalioglu/ai-ugc/internal/sqlinline"
)

const (
	ProviderKie    = "kie"
	ProviderGemini = "gemini"
)

// ErrUnknownProvider is returned for providers the pipeline does not call.
var ErrUnknownProvider = errors.New("credentials: unknown provider")

// Store reads and rotates provider API keys persisted in Postgres.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Known reports whether provider is one the pipeline calls.
func Known(provider string) bool {
	switch provider {
	case ProviderKie, ProviderGemini:
		return true
	}
	return false
}

// Token returns the stored key, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	if !Known(provider) {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	row := s.sql.QueryRow(ctx, sqlinline.QSelectProviderToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// Resolve prefers the configured value and falls back to the stored key.
func (s *Store) Resolve(ctx context.Context, provider, configured string) (string, error) {
	if v := strings.TrimSpace(configured); v != "" {
		return v, nil
	}
	return s.Token(ctx, provider)
}

// Set stores key for provider. updatedBy is recorded for auditing.
func (s *Store) Set(ctx context.Context, provider, key, updatedBy string) error {
	if !Known(provider) {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%s api key is required", provider)
	}
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertProviderToken, provider, key, updatedBy)
	return err
}
