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

const (
	graphPlatform   = "graph"
	maxPageRequests = 10
	pageFields      = "id,name,access_token,category,instagram_business_account{id,username}"
)

// GraphConfig configures the Graph API client used for Facebook and Instagram
type GraphConfig struct {
	AppID      string
	AppSecret  string
	BaseURL    string
	APIVersion string
	Options    ClientOptions
}

// GraphClient talks to the Graph API token, page and debug endpoints
type GraphClient struct {
	cfg    GraphConfig
	base   string
	caller *caller
}

func NewGraphClient(cfg GraphConfig, httpClient *http.Client, logger *logrus.Logger) *GraphClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = constants.DefaultGraphAPIBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = constants.DefaultGraphAPIVersion
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/") + "/" + strings.Trim(cfg.APIVersion, "/")
	return &GraphClient{
		cfg:    cfg,
		base:   base,
		caller: newCaller(graphPlatform, cfg.Options, httpClient, parseGraphError, logger),
	}
}

// graphError is the Graph API error envelope
type graphError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

func parseGraphError(body []byte) string {
	var ge graphError
	if err := json.Unmarshal(body, &ge); err != nil || ge.Error.Message == "" {
		return strings.TrimSpace(truncate(string(body), 200))
	}
	if ge.Error.Type != "" {
		return fmt.Sprintf("%s (%s, code %d)", ge.Error.Message, ge.Error.Type, ge.Error.Code)
	}
	return ge.Error.Message
}

func (c *GraphClient) get(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	endpoint := c.base + "/" + strings.TrimPrefix(path, "/")
	return c.getURL(ctx, op, endpoint+"?"+query.Encode(), out)
}

func (c *GraphClient) getURL(ctx context.Context, op, rawURL string, out interface{}) error {
	return c.caller.do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	}, out)
}

// ExchangeCode trades an OAuth authorization code for a short-lived user token
func (c *GraphClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	q := url.Values{}
	q.Set("client_id", c.cfg.AppID)
	q.Set("client_secret", c.cfg.AppSecret)
	q.Set("redirect_uri", redirectURI)
	q.Set("code", code)

	var out TokenResponse
	if err := c.get(ctx, "exchange_code", "oauth/access_token", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExchangeLongLived trades a user token for a long-lived one (fb_exchange_token)
func (c *GraphClient) ExchangeLongLived(ctx context.Context, token string) (*TokenResponse, error) {
	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", c.cfg.AppID)
	q.Set("client_secret", c.cfg.AppSecret)
	q.Set("fb_exchange_token", token)

	var out TokenResponse
	if err := c.get(ctx, "exchange_long_lived", "oauth/access_token", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type pagesResponse struct {
	Data   []Page `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// ListPages returns the pages the user manages with their page tokens and
// linked Instagram business accounts. Follows paging.next.
func (c *GraphClient) ListPages(ctx context.Context, userToken string) ([]Page, error) {
	q := url.Values{}
	q.Set("fields", pageFields)
	q.Set("access_token", userToken)

	var pages []Page
	next := c.base + "/me/accounts?" + q.Encode()
	for i := 0; next != "" && i < maxPageRequests; i++ {
		var resp pagesResponse
		if err := c.getURL(ctx, "list_pages", next, &resp); err != nil {
			return nil, err
		}
		pages = append(pages, resp.Data...)
		next = resp.Paging.Next
	}
	return pages, nil
}

// DebugToken inspects a token with the app access token
func (c *GraphClient) DebugToken(ctx context.Context, token string) (*TokenInfo, error) {
	q := url.Values{}
	q.Set("input_token", token)
	q.Set("access_token", c.cfg.AppID+"|"+c.cfg.AppSecret)

	var out struct {
		Data TokenInfo `json:"data"`
	}
	if err := c.get(ctx, "debug_token", "debug_token", q, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Me returns the token owner
func (c *GraphClient) Me(ctx context.Context, token string) (*Profile, error) {
	q := url.Values{}
	q.Set("fields", "id,name")
	q.Set("access_token", token)

	var out Profile
	if err := c.get(ctx, "me", "me", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InstagramAccount fetches the username of an Instagram business account
func (c *GraphClient) InstagramAccount(ctx context.Context, accountID, token string) (*InstagramAccount, error) {
	q := url.Values{}
	q.Set("fields", "id,username")
	q.Set("access_token", token)

	var out InstagramAccount
	if err := c.get(ctx, "instagram_account", url.PathEscape(accountID), q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
