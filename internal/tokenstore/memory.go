package tokenstore

import (
	"context"
	"sync"
	"time"

	"socialhub/internal/models"
)

// MemoryBackend keeps deep copies of bundles in a map
type MemoryBackend struct {
	mu      sync.RWMutex
	bundles map[string]*models.CredentialBundle
	markers map[string]time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		bundles: make(map[string]*models.CredentialBundle),
		markers: make(map[string]time.Time),
	}
}

func (m *MemoryBackend) Get(ctx context.Context, key models.CredentialKey) (*models.CredentialBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bundles[keyString(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (m *MemoryBackend) Put(ctx context.Context, bundle *models.CredentialBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[keyString(bundle.Key())] = bundle.Clone()
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key models.CredentialKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := keyString(key)
	if _, ok := m.bundles[k]; !ok {
		return ErrNotFound
	}
	delete(m.bundles, k)
	return nil
}

func (m *MemoryBackend) List(ctx context.Context) ([]*models.CredentialBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.CredentialBundle, 0, len(m.bundles))
	for _, b := range m.bundles {
		out = append(out, b.Clone())
	}
	return out, nil
}

func (m *MemoryBackend) GetMarker(ctx context.Context, name string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.markers[name]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return v, nil
}

func (m *MemoryBackend) SetMarker(ctx context.Context, name string, value time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[name] = value.UTC()
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
