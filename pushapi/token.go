package pushapi

import (
	"context"
	"sync"
)

// TokenSource supplies the bearer token of the signed-in user.
type TokenSource interface {
	// Token returns the current token or ErrNoToken.
	Token(ctx context.Context) (string, error)
	// Clear forgets the token after the API rejected it.
	Clear(ctx context.Context) error
}

// MemoryTokens is a TokenSource holding one token in memory.
type MemoryTokens struct {
	mu    sync.Mutex
	token string
}

func NewMemoryTokens(token string) *MemoryTokens {
	return &MemoryTokens{token: token}
}

func (m *MemoryTokens) Token(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return "", ErrNoToken
	}
	return m.token, nil
}

func (m *MemoryTokens) Set(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

func (m *MemoryTokens) Clear(context.Context) error {
	m.Set("")
	return nil
}
