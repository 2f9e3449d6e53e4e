package platform

import "time"

// TokenResponse is an OAuth token endpoint answer
type TokenResponse struct {
	AccessToken           string `json:"access_token"`
	TokenType             string `json:"token_type,omitempty"`
	ExpiresIn             int64  `json:"expires_in,omitempty"`
	RefreshToken          string `json:"refresh_token,omitempty"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in,omitempty"`
	Scope                 string `json:"scope,omitempty"`
}

// InstagramAccount is the Instagram business account linked to a page
type InstagramAccount struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

// Page is one Facebook page the user manages
type Page struct {
	ID                       string            `json:"id"`
	Name                     string            `json:"name"`
	AccessToken              string            `json:"access_token"`
	Category                 string            `json:"category,omitempty"`
	InstagramBusinessAccount *InstagramAccount `json:"instagram_business_account,omitempty"`
}

// TokenInfo is the debug_token view of an access token
type TokenInfo struct {
	AppID     string   `json:"app_id"`
	Type      string   `json:"type"`
	IsValid   bool     `json:"is_valid"`
	ExpiresAt int64    `json:"expires_at"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
}

// Expiry returns the token expiry, or nil when the token never expires
func (i TokenInfo) Expiry() *time.Time {
	if i.ExpiresAt <= 0 {
		return nil
	}
	t := time.Unix(i.ExpiresAt, 0).UTC()
	return &t
}

// Profile is the minimal identity of a token owner
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}
