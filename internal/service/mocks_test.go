package service

import (
	"context"
	"sync"
	"time"

	"socialhub/internal/models"
	"socialhub/internal/notify"
	"socialhub/internal/platform"
	"socialhub/internal/refresh"

	"github.com/stretchr/testify/mock"
)

type mockGraph struct {
	mock.Mock
}

func (m *mockGraph) ExchangeCode(ctx context.Context, code, redirectURI string) (*platform.TokenResponse, error) {
	args := m.Called(ctx, code, redirectURI)
	if v := args.Get(0); v != nil {
		return v.(*platform.TokenResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGraph) ExchangeLongLived(ctx context.Context, token string) (*platform.TokenResponse, error) {
	args := m.Called(ctx, token)
	if v := args.Get(0); v != nil {
		return v.(*platform.TokenResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGraph) ListPages(ctx context.Context, userToken string) ([]platform.Page, error) {
	args := m.Called(ctx, userToken)
	if v := args.Get(0); v != nil {
		return v.([]platform.Page), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGraph) DebugToken(ctx context.Context, token string) (*platform.TokenInfo, error) {
	args := m.Called(ctx, token)
	if v := args.Get(0); v != nil {
		return v.(*platform.TokenInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGraph) InstagramAccount(ctx context.Context, accountID, token string) (*platform.InstagramAccount, error) {
	args := m.Called(ctx, accountID, token)
	if v := args.Get(0); v != nil {
		return v.(*platform.InstagramAccount), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockLinkedIn struct {
	mock.Mock
}

func (m *mockLinkedIn) ExchangeCode(ctx context.Context, code, redirectURI string) (*platform.TokenResponse, error) {
	args := m.Called(ctx, code, redirectURI)
	if v := args.Get(0); v != nil {
		return v.(*platform.TokenResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLinkedIn) UserInfo(ctx context.Context, accessToken string) (*platform.Profile, error) {
	args := m.Called(ctx, accessToken)
	if v := args.Get(0); v != nil {
		return v.(*platform.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) RefreshKey(ctx context.Context, key models.CredentialKey) refresh.Result {
	return m.Called(ctx, key).Get(0).(refresh.Result)
}

func (m *mockRefresher) RefreshStale(ctx context.Context, threshold time.Duration) (refresh.Summary, error) {
	args := m.Called(ctx, threshold)
	return args.Get(0).(refresh.Summary), args.Error(1)
}

// memoryMarkers is an in-memory MarkerStore
type memoryMarkers struct {
	mu      sync.Mutex
	markers map[string]time.Time
	err     error
}

func newMemoryMarkers() *memoryMarkers {
	return &memoryMarkers{markers: make(map[string]time.Time)}
}

func (m *memoryMarkers) LastRun(ctx context.Context, name string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return time.Time{}, m.err
	}
	return m.markers[name], nil
}

func (m *memoryMarkers) SetLastRun(ctx context.Context, name string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[name] = t
	return nil
}

// recordingPublisher collects published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(event notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
