// Package adapter holds what the chat protocol integrations share.
package adapter

import (
	"context"
	"sync"

	"web2pdfbot/internal/domain"
)

// ConfigStore keeps named per-account settings for protocols that have no
// server-side account config. *store.AccountConfig implements it.
type ConfigStore interface {
	Get(ctx context.Context, acc domain.AccountID, key string) (string, error)
	Set(ctx context.Context, acc domain.AccountID, key, value string) error
}

// MemoryConfig is a ConfigStore that lives as long as the process.
type MemoryConfig struct {
	mu     sync.Mutex
	values map[domain.AccountID]map[string]string
}

func NewMemoryConfig() *MemoryConfig {
	return &MemoryConfig{values: make(map[domain.AccountID]map[string]string)}
}

func (m *MemoryConfig) Get(_ context.Context, acc domain.AccountID, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[acc][key], nil
}

func (m *MemoryConfig) Set(_ context.Context, acc domain.AccountID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[acc] == nil {
		m.values[acc] = make(map[string]string)
	}
	m.values[acc][key] = value
	return nil
}

// Emit delivers ev on events unless ctx ends first.
func Emit(ctx context.Context, events chan<- domain.AccountEvent, ev domain.AccountEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
