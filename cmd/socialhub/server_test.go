package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "socialhub/internal/errors"
	"socialhub/internal/features"
	"socialhub/internal/ledger"
	"socialhub/internal/models"
	"socialhub/internal/notify"
	"socialhub/internal/privacy"
	"socialhub/internal/refresh"
	"socialhub/internal/service"
	"socialhub/internal/tokenstore"
	"socialhub/internal/tracing"
	"socialhub/internal/webhook"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testVerifyToken = "verify-token-123"
	testAPIKey      = "api-key-456"
)

const inboundPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{"id": "WABA", "changes": [{"field": "messages", "value": {
    "messaging_product": "whatsapp",
    "contacts": [{"wa_id": "15551234567", "profile": {"name": "Dana"}}],
    "messages": [{"from": "15551234567", "id": "wamid.ABC123", "timestamp": "1717000000",
                  "type": "text", "text": {"body": "Hi"}}]
  }}]}]
}`

const deliveredPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{"id": "WABA", "changes": [{"field": "messages", "value": {
    "messaging_product": "whatsapp",
    "statuses": [{"id": "wamid.ABC123", "status": "delivered", "timestamp": "1717000100",
                  "recipient_id": "15551234567"}]
  }}]}]
}`

type testEnv struct {
	server *Server
	ledger *ledger.Ledger
	store  *tokenstore.Store
}

func newTestEnv(t *testing.T, mutate func(*models.Config)) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := &models.Config{
		Server:   models.ServerConfig{Port: 0},
		WhatsApp: models.WhatsAppConfig{VerifyToken: testVerifyToken},
	}
	if mutate != nil {
		mutate(cfg)
	}

	l := ledger.New(ledger.NewMemorySnapshotStore(), 100, logger)
	require.NoError(t, l.Load(context.Background()))
	hub := notify.NewHub(8, logger)
	t.Cleanup(hub.Close)

	flags := features.NewFlagManager()
	require.NoError(t, flags.LoadFromConfig(cfg.Features))

	store := tokenstore.NewStore(tokenstore.NewMemoryBackend(), logger)
	refresher := refresh.New(store, nil, nil, logger)

	server := NewServer(cfg, ServerDeps{
		Messages:    service.NewMessageService(l, hub, hub, logger),
		Credentials: service.NewCredentialService(store, nil, nil, refresher, time.Hour, logger),
		Processor:   webhook.NewProcessor(l, hub, 4, logger),
		Live:        notify.NewWebSocketHandler(hub, nil, logger),
		Features:    flags,
	}, logger, false)

	return &testEnv{server: server, ledger: l, store: store}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["messages"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_WebhookVerification(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantBody string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=1158201444", http.StatusOK, "1158201444"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=1", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?"+tt.query, nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestServer_WebhookToLedgerEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)

	post := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(body))
		return env.do(req).Code
	}

	require.Equal(t, http.StatusOK, post(inboundPayload))
	require.Equal(t, http.StatusOK, post(deliveredPayload))
	require.Equal(t, http.StatusOK, post(deliveredPayload))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/messages/15551234567", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ContactID string           `json:"contactId"`
		Messages  []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "+15551234567", resp.ContactID)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, models.StatusDelivered, resp.Messages[0].Status)
	assert.Equal(t, models.DirectionIncoming, resp.Messages[0].Direction)
	assert.Equal(t, int64(1717000000000), resp.Messages[0].Timestamp)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/contacts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var contacts struct {
		Contacts []models.ContactSummary `json:"contacts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contacts))
	require.Len(t, contacts.Contacts, 1)
	assert.Equal(t, "Dana", contacts.Contacts[0].DisplayName)
}

func TestServer_WebhookRejectsMalformedJSON(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_WebhookAcksUnrecognizedPayload(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(`{"object":"page","entry":[]}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.ledger.Stats().Messages)
}

func TestServer_WebhookSignature(t *testing.T) {
	const secret = "app-secret"
	env := newTestEnv(t, func(cfg *models.Config) { cfg.WhatsApp.AppSecret = secret })

	tests := []struct {
		name      string
		signature string
		wantCode  int
	}{
		{"valid", sign(secret, inboundPayload), http.StatusOK},
		{"wrong secret", sign("other", inboundPayload), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
		{"bad format", "md5=abc", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(inboundPayload))
			if tt.signature != "" {
				req.Header.Set("X-Hub-Signature-256", tt.signature)
			}
			assert.Equal(t, tt.wantCode, env.do(req).Code)
		})
	}
	assert.Equal(t, 1, env.ledger.Stats().Messages)
}

func TestServer_PostMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	body := `{"id":"local-1","contactId":"+1 555 000 1111","text":"On my way"}`

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var result service.PostResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Appended)
	assert.Equal(t, "+15550001111", result.Message.ContactID)
	assert.Equal(t, models.StatusSent, result.Message.Status)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.ledger.Stats().Messages)
}

func TestServer_PostMessageValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"empty body", "", "VALIDATION_FAILED"},
		{"not json", "{", "INVALID_INPUT"},
		{"unknown field", `{"contactId":"+15550001111","text":"x","extra":1}`, "INVALID_INPUT"},
		{"missing text", `{"contactId":"+15550001111"}`, "VALIDATION_FAILED"},
		{"missing contact", `{"text":"hello"}`, "VALIDATION_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(tt.body)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeJSON(t, rec)
			errBody := body["error"].(map[string]interface{})
			assert.Equal(t, tt.wantCode, errBody["code"])
			assert.NotEmpty(t, body["request_id"])
		})
	}
}

func TestServer_MessagesSinceValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/messages/15551234567?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/messages/15551234567?since=0", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeJSON(t, rec)["count"])
}

func TestServer_TokenRoutesRequireAPIKey(t *testing.T) {
	env := newTestEnv(t, func(cfg *models.Config) { cfg.Server.APIKey = testAPIKey })

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/tokens/user-1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/tokens/user-1", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	assert.Equal(t, http.StatusOK, env.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/tokens/user-1", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	assert.Equal(t, http.StatusOK, env.do(req).Code)

	// message routes stay open
	assert.Equal(t, http.StatusOK, env.do(httptest.NewRequest(http.MethodGet, "/api/contacts", nil)).Code)
}

func TestServer_WriteErrorLogsRequestContext(t *testing.T) {
	var logs bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logs)
	logger.SetFormatter(&logrus.JSONFormatter{})
	s := &Server{logger: logger}

	req := httptest.NewRequest(http.MethodGet, "/api/tokens/user-123456", nil)
	req = req.WithContext(apperrors.WithRequestID(tracing.WithRequestID(req.Context(), "req_42"), "req_42"))
	req = mux.SetURLVars(req, map[string]string{"user": "user-123456"})
	rec := httptest.NewRecorder()
	s.writeError(rec, req, apperrors.NewPersistenceError("list credentials", errors.New("disk")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "req_42", body["request_id"])
	assert.NotContains(t, rec.Body.String(), "user_id")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "Request failed", entry["msg"])
	assert.Equal(t, "req_42", entry["request_id"])
	assert.Equal(t, privacy.MaskUserID("user-123456"), entry["user_id"])
}

func TestServer_CredentialLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	key := models.CredentialKey{UserID: "user-1", Platform: models.PlatformLinkedIn, AccountID: "member-9"}
	_, err := env.store.Save(context.Background(), key, models.CredentialUpdate{
		LinkedInAccessToken: models.NewToken("li-access", 3600, time.Now()),
		MemberURN:           models.StringPtr("urn:li:person:member-9"),
	})
	require.NoError(t, err)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/tokens/user-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeJSON(t, rec)["count"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/tokens/user-1/linkedin/member-9", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var bundle models.CredentialBundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bundle))
	require.NotNil(t, bundle.LinkedIn)
	assert.Equal(t, "li-access", bundle.LinkedIn.AccessToken.Value)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/tokens/user-1/linkedin/member-9", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/tokens/user-1/linkedin/member-9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeJSON(t, rec)["error"].(map[string]interface{})["code"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/tokens/user-1/myspace/member-9", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_VerifyAndConnectWithoutPlatformConfig(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/tokens/facebook/verify", strings.NewReader(`{"token":"abc"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CONFIG", decodeJSON(t, rec)["error"].(map[string]interface{})["code"])

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/tokens/linkedin/connect",
		strings.NewReader(`{"userId":"user-1","code":"c","redirectUri":"https://app.example/cb"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/tokens/tiktok/verify", strings.NewReader(`{"token":"abc"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", decodeJSON(t, rec)["error"].(map[string]interface{})["code"])
}

func TestServer_ManualRefresh(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/tokens/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeJSON(t, rec)["total"])

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/tokens/refresh",
		strings.NewReader(`{"key":"user-1:facebook:page-1"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/tokens/refresh", strings.NewReader(`{"key":"garbage"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeJSON(t, rec)
	assert.Contains(t, body, "counters")
	assert.Contains(t, body, "timers")

	rec = env.do(httptest.NewRequest(http.MethodGet, "/metrics?format=prometheus", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_FeatureFlags(t *testing.T) {
	env := newTestEnv(t, func(cfg *models.Config) {
		cfg.Features = map[string]bool{
			features.FlagLiveUpdates:     false,
			features.FlagAPIRateLimiting: false,
		}
	})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for i := 0; i < 200; i++ {
		rec = env.do(httptest.NewRequest(http.MethodGet, "/api/contacts", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
}

func TestServer_APIRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)

	var last int
	for i := 0; i <= 120; i++ {
		last = env.do(httptest.NewRequest(http.MethodGet, "/api/contacts", nil)).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
