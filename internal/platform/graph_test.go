package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "socialhub/internal/errors"
	"socialhub/internal/retry"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() ClientOptions {
	return ClientOptions{
		Timeout:    2 * time.Second,
		RatePerSec: 1000,
		Burst:      100,
		Retry: retry.BackoffConfig{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
			MaxAttempts:  3,
		},
		BreakerFailures: 10,
		BreakerCooldown: time.Minute,
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newTestGraphClient(t *testing.T, handler http.Handler) *GraphClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGraphClient(GraphConfig{
		AppID:      "app-id",
		AppSecret:  "app-secret",
		BaseURL:    srv.URL,
		APIVersion: "v19.0",
		Options:    testOptions(),
	}, nil, testLogger())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGraphClient_ExchangeCodeAndLongLived(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v19.0/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "app-id", q.Get("client_id"))
		assert.Equal(t, "app-secret", q.Get("client_secret"))
		if q.Get("grant_type") == "fb_exchange_token" {
			assert.Equal(t, "short", q.Get("fb_exchange_token"))
			writeJSON(w, http.StatusOK, map[string]interface{}{"access_token": "long", "token_type": "bearer", "expires_in": 5184000})
			return
		}
		assert.Equal(t, "the-code", q.Get("code"))
		assert.Equal(t, "https://app/callback", q.Get("redirect_uri"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"access_token": "short", "expires_in": 3600})
	})
	client := newTestGraphClient(t, mux)
	ctx := context.Background()

	short, err := client.ExchangeCode(ctx, "the-code", "https://app/callback")
	require.NoError(t, err)
	assert.Equal(t, "short", short.AccessToken)
	assert.Equal(t, int64(3600), short.ExpiresIn)

	long, err := client.ExchangeLongLived(ctx, short.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "long", long.AccessToken)
	assert.Equal(t, int64(5184000), long.ExpiresIn)
}

func TestGraphClient_ListPagesFollowsPaging(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/v19.0/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user-token", r.URL.Query().Get("access_token"))
		if r.URL.Query().Get("after") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"data": []map[string]interface{}{
					{"id": "p1", "name": "Shop", "access_token": "page-1",
						"instagram_business_account": map[string]string{"id": "ig-1", "username": "shop"}},
				},
				"paging": map[string]string{"next": srvURL + "/v19.0/me/accounts?access_token=user-token&after=c1"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": []map[string]interface{}{{"id": "p2", "name": "Blog", "access_token": "page-2"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL
	client := NewGraphClient(GraphConfig{AppID: "a", AppSecret: "s", BaseURL: srv.URL, Options: testOptions()}, nil, testLogger())

	pages, err := client.ListPages(context.Background(), "user-token")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "page-1", pages[0].AccessToken)
	require.NotNil(t, pages[0].InstagramBusinessAccount)
	assert.Equal(t, "shop", pages[0].InstagramBusinessAccount.Username)
	assert.Nil(t, pages[1].InstagramBusinessAccount)
}

func TestGraphClient_DebugTokenAndMe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v19.0/debug_token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "app-id|app-secret", r.URL.Query().Get("access_token"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
			"app_id": "app-id", "is_valid": true, "expires_at": 1772323200, "user_id": "42",
			"scopes": []string{"pages_show_list", "instagram_basic"},
		}})
	})
	mux.HandleFunc("/v19.0/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "42", "name": "Jane"})
	})
	client := newTestGraphClient(t, mux)
	ctx := context.Background()

	info, err := client.DebugToken(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, info.IsValid)
	assert.Equal(t, "42", info.UserID)
	require.NotNil(t, info.Expiry())
	assert.Equal(t, int64(1772323200), info.Expiry().Unix())
	assert.Contains(t, info.Scopes, "instagram_basic")

	me, err := client.Me(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "Jane", me.Name)
}

func TestGraphClient_RemoteErrorPropagated(t *testing.T) {
	var calls int32
	client := newTestGraphClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": map[string]interface{}{
			"message": "Invalid OAuth access token.", "type": "OAuthException", "code": 190,
		}})
	}))

	_, err := client.Me(context.Background(), "bad")
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeUpstreamAPI, appErr.Code)
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
	assert.False(t, appErr.Retryable)
	assert.Contains(t, apperrors.GetUserMessage(err), "Invalid OAuth access token.")
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatusCode(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "client errors are not retried")
}

func TestGraphClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestGraphClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": "42"})
	}))

	me, err := client.Me(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "42", me.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGraphClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	client := newTestGraphClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.Me(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, http.StatusBadGateway, apperrors.HTTPStatusCode(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGraphClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	opts := testOptions()
	opts.Timeout = 50 * time.Millisecond
	opts.Retry.MaxAttempts = 1
	client := NewGraphClient(GraphConfig{BaseURL: srv.URL, Options: opts}, nil, testLogger())

	start := time.Now()
	_, err := client.Me(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUpstreamAPI))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.NotContains(t, err.Error(), "access_token=tok")
}

func TestGraphClient_MalformedResponse(t *testing.T) {
	client := newTestGraphClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))

	_, err := client.Me(context.Background(), "tok")
	require.Error(t, err)
	assert.Contains(t, apperrors.GetUserMessage(err), "malformed response")
}

func TestParseGraphError(t *testing.T) {
	assert.Equal(t, "Bad (OAuthException, code 190)",
		parseGraphError([]byte(`{"error":{"message":"Bad","type":"OAuthException","code":190}}`)))
	assert.Equal(t, "plain text", parseGraphError([]byte("plain text")))
}

func TestGraphClient_HonoursRetryAfter(t *testing.T) {
	var calls int32
	client := newTestGraphClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": "42", "name": "Page"})
	}))

	start := time.Now()
	me, err := client.Me(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "42", me.ID)
	// retry max delay caps the hint
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}
