package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	apperrors "socialhub/internal/errors"
	"socialhub/internal/models"
	"socialhub/internal/platform"
	"socialhub/internal/refresh"
	"socialhub/internal/tokenstore"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var credentialNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newCredentialFixture(t *testing.T) (*CredentialService, *tokenstore.Store, *mockGraph, *mockLinkedIn, *mockRefresher) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := tokenstore.NewStore(tokenstore.NewMemoryBackend(), logger, tokenstore.WithClock(func() time.Time { return credentialNow }))
	graph := &mockGraph{}
	li := &mockLinkedIn{}
	ref := &mockRefresher{}
	svc := NewCredentialService(store, graph, li, ref, 24*time.Hour, logger)
	return svc, store, graph, li, ref
}

func TestCredentialService_ConnectFacebook(t *testing.T) {
	svc, store, graph, _, _ := newCredentialFixture(t)
	ctx := context.Background()

	graph.On("ExchangeCode", mock.Anything, "auth-code", "https://app/cb").
		Return(&platform.TokenResponse{AccessToken: "short"}, nil)
	graph.On("ExchangeLongLived", mock.Anything, "short").
		Return(&platform.TokenResponse{AccessToken: "long", ExpiresIn: 5184000}, nil)
	graph.On("DebugToken", mock.Anything, "long").
		Return(&platform.TokenInfo{IsValid: true, UserID: "fb-user-1"}, nil)
	graph.On("ListPages", mock.Anything, "long").Return([]platform.Page{
		{ID: "page-1", Name: "Bakery", AccessToken: "page-token-1", Category: "Food"},
		{ID: "page-2", Name: "Cafe", AccessToken: "page-token-2"},
		{ID: "page-3", Name: "No token"},
	}, nil)

	bundles, err := svc.Connect(ctx, "user-1", models.PlatformFacebook, "auth-code", "https://app/cb")
	require.NoError(t, err)
	require.Len(t, bundles, 2)

	loaded, err := store.Load(ctx, models.CredentialKey{UserID: "user-1", Platform: models.PlatformFacebook, AccountID: "page-1"})
	require.NoError(t, err)
	pages := loaded.Pages()
	require.NotNil(t, pages)
	assert.Equal(t, "long", pages.UserAccessToken.Value)
	require.NotNil(t, pages.UserAccessToken.ExpiresAt)
	assert.True(t, pages.UserAccessToken.ExpiresAt.Equal(credentialNow.Add(60*24*time.Hour)))
	assert.Equal(t, "page-token-1", pages.PageAccessToken.Value)
	assert.Nil(t, pages.PageAccessToken.ExpiresAt)
	assert.Equal(t, "Bakery", pages.PageName)
	assert.Equal(t, "Food", loaded.AccountMeta["category"])
	assert.Equal(t, "fb-user-1", loaded.AccountMeta["platformUserId"])

	graph.AssertExpectations(t)
}

func TestCredentialService_ConnectInstagram(t *testing.T) {
	svc, store, graph, _, _ := newCredentialFixture(t)
	ctx := context.Background()

	graph.On("ExchangeCode", mock.Anything, "code", "https://app/cb").
		Return(&platform.TokenResponse{AccessToken: "short"}, nil)
	graph.On("ExchangeLongLived", mock.Anything, "short").
		Return(&platform.TokenResponse{AccessToken: "long"}, nil)
	graph.On("DebugToken", mock.Anything, "long").
		Return(&platform.TokenInfo{IsValid: true, UserID: "fb-user-1", ExpiresAt: credentialNow.Add(48 * time.Hour).Unix()}, nil)
	graph.On("ListPages", mock.Anything, "long").Return([]platform.Page{
		{ID: "page-1", Name: "Bakery", AccessToken: "pt-1", InstagramBusinessAccount: &platform.InstagramAccount{ID: "ig-1", Username: "bakery"}},
		{ID: "page-2", Name: "Cafe", AccessToken: "pt-2", InstagramBusinessAccount: &platform.InstagramAccount{ID: "ig-2"}},
		{ID: "page-3", Name: "No IG", AccessToken: "pt-3"},
	}, nil)
	graph.On("InstagramAccount", mock.Anything, "ig-2", "pt-2").
		Return(&platform.InstagramAccount{ID: "ig-2", Username: "cafe"}, nil)

	bundles, err := svc.Connect(ctx, "user-1", models.PlatformInstagram, "code", "https://app/cb")
	require.NoError(t, err)
	require.Len(t, bundles, 2)

	second, err := store.Load(ctx, models.CredentialKey{UserID: "user-1", Platform: models.PlatformInstagram, AccountID: "ig-2"})
	require.NoError(t, err)
	require.NotNil(t, second.Instagram)
	assert.Equal(t, "cafe", second.Instagram.Username)
	assert.Equal(t, "page-2", second.Instagram.PageID)
	require.NotNil(t, second.Instagram.UserAccessToken.ExpiresAt)
	assert.True(t, second.Instagram.UserAccessToken.ExpiresAt.Equal(credentialNow.Add(48*time.Hour)))

	graph.AssertExpectations(t)
}

func TestCredentialService_ConnectInstagramWithoutBusinessAccount(t *testing.T) {
	svc, _, graph, _, _ := newCredentialFixture(t)

	graph.On("ExchangeCode", mock.Anything, mock.Anything, mock.Anything).Return(&platform.TokenResponse{AccessToken: "short"}, nil)
	graph.On("ExchangeLongLived", mock.Anything, "short").Return(&platform.TokenResponse{AccessToken: "long"}, nil)
	graph.On("DebugToken", mock.Anything, "long").Return(&platform.TokenInfo{IsValid: true}, nil)
	graph.On("ListPages", mock.Anything, "long").Return([]platform.Page{{ID: "page-1", AccessToken: "pt"}}, nil)

	_, err := svc.Connect(context.Background(), "user-1", models.PlatformInstagram, "code", "https://app/cb")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed))
}

func TestCredentialService_ConnectRejectsInvalidToken(t *testing.T) {
	svc, _, graph, _, _ := newCredentialFixture(t)

	graph.On("ExchangeCode", mock.Anything, mock.Anything, mock.Anything).Return(&platform.TokenResponse{AccessToken: "short"}, nil)
	graph.On("ExchangeLongLived", mock.Anything, "short").Return(&platform.TokenResponse{AccessToken: "long"}, nil)
	graph.On("DebugToken", mock.Anything, "long").Return(&platform.TokenInfo{IsValid: false}, nil)

	_, err := svc.Connect(context.Background(), "user-1", models.PlatformFacebook, "code", "https://app/cb")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeAuthentication))
	graph.AssertNotCalled(t, "ListPages", mock.Anything, mock.Anything)
}

func TestCredentialService_ConnectLinkedIn(t *testing.T) {
	svc, store, _, li, _ := newCredentialFixture(t)
	ctx := context.Background()

	li.On("ExchangeCode", mock.Anything, "code", "https://app/cb").Return(&platform.TokenResponse{
		AccessToken:           "li-access",
		ExpiresIn:             3600,
		RefreshToken:          "li-refresh",
		RefreshTokenExpiresIn: 86400,
	}, nil)
	li.On("UserInfo", mock.Anything, "li-access").Return(&platform.Profile{ID: "abc123", Name: "Ada"}, nil)

	bundles, err := svc.Connect(ctx, "user-1", models.PlatformLinkedIn, "code", "https://app/cb")
	require.NoError(t, err)
	require.Len(t, bundles, 1)

	loaded, err := store.Load(ctx, models.CredentialKey{UserID: "user-1", Platform: models.PlatformLinkedIn, AccountID: "abc123"})
	require.NoError(t, err)
	require.NotNil(t, loaded.LinkedIn)
	assert.Equal(t, "urn:li:person:abc123", loaded.LinkedIn.MemberURN)
	assert.Equal(t, "li-access", loaded.LinkedIn.AccessToken.Value)
	assert.Equal(t, "li-refresh", loaded.LinkedIn.RefreshToken.Value)
	assert.Equal(t, "Ada", loaded.AccountMeta["name"])
}

func TestCredentialService_ConnectValidation(t *testing.T) {
	svc, _, _, _, _ := newCredentialFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		userID   string
		platform models.Platform
		code     string
		redirect string
	}{
		{"missing user", "", models.PlatformFacebook, "code", "https://app/cb"},
		{"user with separator", "a:b", models.PlatformFacebook, "code", "https://app/cb"},
		{"missing code", "user-1", models.PlatformFacebook, " ", "https://app/cb"},
		{"missing redirect", "user-1", models.PlatformFacebook, "code", ""},
		{"relative redirect", "user-1", models.PlatformFacebook, "code", "/cb"},
		{"unknown platform", "user-1", models.Platform("myspace"), "code", "https://app/cb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Connect(ctx, tt.userID, tt.platform, tt.code, tt.redirect)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed))
		})
	}
}

func TestCredentialService_PlatformNotConfigured(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := tokenstore.NewStore(tokenstore.NewMemoryBackend(), logger)
	svc := NewCredentialService(store, nil, nil, nil, time.Hour, logger)
	ctx := context.Background()

	_, err := svc.Connect(ctx, "user-1", models.PlatformFacebook, "code", "https://app/cb")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidConfig))

	_, err = svc.Verify(ctx, models.PlatformLinkedIn, "token")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidConfig))

	_, err = svc.TriggerRefresh(ctx, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidConfig))
}

func TestCredentialService_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("graph token", func(t *testing.T) {
		svc, _, graph, _, _ := newCredentialFixture(t)
		expires := credentialNow.Add(time.Hour)
		graph.On("DebugToken", mock.Anything, "tok").Return(&platform.TokenInfo{
			IsValid:   true,
			UserID:    "fb-1",
			ExpiresAt: expires.Unix(),
			Scopes:    []string{"pages_show_list"},
		}, nil)

		res, err := svc.Verify(ctx, models.PlatformFacebook, "tok")
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, "fb-1", res.AccountID)
		require.NotNil(t, res.ExpiresAt)
		assert.True(t, res.ExpiresAt.Equal(expires))
		assert.Equal(t, []string{"pages_show_list"}, res.Scopes)
	})

	t.Run("linkedin valid", func(t *testing.T) {
		svc, _, _, li, _ := newCredentialFixture(t)
		li.On("UserInfo", mock.Anything, "tok").Return(&platform.Profile{ID: "m1", Name: "Ada"}, nil)

		res, err := svc.Verify(ctx, models.PlatformLinkedIn, "tok")
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, "m1", res.AccountID)
	})

	t.Run("linkedin rejected", func(t *testing.T) {
		svc, _, _, li, _ := newCredentialFixture(t)
		li.On("UserInfo", mock.Anything, "tok").
			Return(nil, apperrors.NewUpstreamError("linkedin", "userinfo", http.StatusUnauthorized, "invalid token", nil))

		res, err := svc.Verify(ctx, models.PlatformLinkedIn, "tok")
		require.NoError(t, err)
		assert.False(t, res.Valid)
	})

	t.Run("linkedin outage", func(t *testing.T) {
		svc, _, _, li, _ := newCredentialFixture(t)
		li.On("UserInfo", mock.Anything, "tok").
			Return(nil, apperrors.NewUpstreamError("linkedin", "userinfo", http.StatusBadGateway, "bad gateway", nil))

		_, err := svc.Verify(ctx, models.PlatformLinkedIn, "tok")
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeUpstreamAPI))
	})

	t.Run("empty token", func(t *testing.T) {
		svc, _, _, _, _ := newCredentialFixture(t)
		_, err := svc.Verify(ctx, models.PlatformFacebook, "  ")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed))
	})
}

func TestCredentialService_GetListDelete(t *testing.T) {
	svc, store, _, _, _ := newCredentialFixture(t)
	ctx := context.Background()

	key := models.CredentialKey{UserID: "user-1", Platform: models.PlatformLinkedIn, AccountID: "m1"}
	_, err := store.Save(ctx, key, models.CredentialUpdate{LinkedInAccessToken: &models.Token{Value: "a"}})
	require.NoError(t, err)

	got, err := svc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "a", got.LinkedIn.AccessToken.Value)

	list, err := svc.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.List(ctx, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed))

	require.NoError(t, svc.Delete(ctx, key))
	_, err = svc.Get(ctx, key)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
}

func TestCredentialService_TriggerRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("all stale", func(t *testing.T) {
		svc, _, _, _, ref := newCredentialFixture(t)
		ref.On("RefreshStale", mock.Anything, 24*time.Hour).Return(refresh.Summary{Total: 2, Refreshed: 2}, nil)

		summary, err := svc.TriggerRefresh(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Refreshed)
		ref.AssertExpectations(t)
	})

	t.Run("single key", func(t *testing.T) {
		svc, store, _, _, ref := newCredentialFixture(t)
		key := models.CredentialKey{UserID: "user-1", Platform: models.PlatformLinkedIn, AccountID: "m1"}
		_, err := store.Save(ctx, key, models.CredentialUpdate{LinkedInAccessToken: &models.Token{Value: "a"}})
		require.NoError(t, err)

		ref.On("RefreshKey", mock.Anything, key).Return(refresh.Result{Key: key, Outcome: refresh.OutcomeRefreshed})

		summary, err := svc.TriggerRefresh(ctx, &key)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Total)
		assert.Equal(t, 1, summary.Refreshed)
		ref.AssertExpectations(t)
	})

	t.Run("unknown key", func(t *testing.T) {
		svc, _, _, _, ref := newCredentialFixture(t)
		key := models.CredentialKey{UserID: "user-1", Platform: models.PlatformFacebook, AccountID: "nope"}

		_, err := svc.TriggerRefresh(ctx, &key)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
		ref.AssertNotCalled(t, "RefreshKey", mock.Anything, mock.Anything)
	})
}
