package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"socialhub/internal/constants"

	"github.com/sirupsen/logrus"
)

const linkedInPlatform = "linkedin"

// LinkedInConfig configures the LinkedIn OAuth and userinfo client
type LinkedInConfig struct {
	ClientID     string
	ClientSecret string
	OAuthURL     string
	APIBaseURL   string
	Options      ClientOptions
}

// LinkedInClient talks to the LinkedIn OAuth token endpoint and OpenID userinfo
type LinkedInClient struct {
	cfg    LinkedInConfig
	caller *caller
}

func NewLinkedInClient(cfg LinkedInConfig, httpClient *http.Client, logger *logrus.Logger) *LinkedInClient {
	if cfg.OAuthURL == "" {
		cfg.OAuthURL = constants.DefaultLinkedInOAuthURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = constants.DefaultLinkedInAPIBaseURL
	}
	cfg.OAuthURL = strings.TrimSuffix(cfg.OAuthURL, "/")
	cfg.APIBaseURL = strings.TrimSuffix(cfg.APIBaseURL, "/")
	return &LinkedInClient{
		cfg:    cfg,
		caller: newCaller(linkedInPlatform, cfg.Options, httpClient, parseLinkedInError, logger),
	}
}

// linkedInError covers both the OAuth and the REST error shapes
type linkedInError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
	ServiceErrorCode int    `json:"serviceErrorCode"`
}

func parseLinkedInError(body []byte) string {
	var le linkedInError
	if err := json.Unmarshal(body, &le); err != nil {
		return strings.TrimSpace(truncate(string(body), 200))
	}
	switch {
	case le.ErrorDescription != "":
		return fmt.Sprintf("%s: %s", le.Error, le.ErrorDescription)
	case le.Message != "":
		return le.Message
	case le.Error != "":
		return le.Error
	}
	return strings.TrimSpace(truncate(string(body), 200))
}

func (c *LinkedInClient) token(ctx context.Context, op string, form url.Values) (*TokenResponse, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	encoded := form.Encode()
	endpoint := c.cfg.OAuthURL + "/accessToken"

	var out TokenResponse
	err := c.caller.do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExchangeCode trades an authorization code for access and refresh tokens
func (c *LinkedInClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	return c.token(ctx, "exchange_code", form)
}

// Refresh renews the access token. LinkedIn may or may not rotate the refresh token.
func (c *LinkedInClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.token(ctx, "refresh", form)
}

// UserInfo returns the OpenID Connect identity of the token owner
func (c *LinkedInClient) UserInfo(ctx context.Context, accessToken string) (*Profile, error) {
	var out struct {
		Sub   string `json:"sub"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	err := c.caller.do(ctx, "userinfo", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+"/userinfo", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		return req, nil
	}, &out)
	if err != nil {
		return nil, err
	}
	return &Profile{ID: out.Sub, Name: out.Name, Email: out.Email}, nil
}
