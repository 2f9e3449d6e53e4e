package models

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies the external social platform a credential belongs to
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformLinkedIn  Platform = "linkedin"
)

// Platforms lists every supported platform
var Platforms = []Platform{PlatformInstagram, PlatformFacebook, PlatformLinkedIn}

// ParsePlatform validates a platform name
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlatformInstagram, PlatformFacebook, PlatformLinkedIn:
		return p, nil
	}
	return "", fmt.Errorf("unsupported platform: %q", s)
}

// UsesPageTokens reports whether the platform carries a delegated page token
func (p Platform) UsesPageTokens() bool {
	return p == PlatformFacebook || p == PlatformInstagram
}

// Token is one access or refresh token. A token without ExpiresAt never expires.
type Token struct {
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	ExpiresIn int64      `json:"expiresIn,omitempty"`
	// Expired is computed when the token is read and never persisted.
	Expired bool `json:"expired,omitempty"`
}

// NewToken builds a token whose expiry is now+expiresIn. expiresIn <= 0 means no expiry.
func NewToken(value string, expiresIn int64, now time.Time) *Token {
	t := &Token{Value: value, ExpiresIn: expiresIn}
	if expiresIn > 0 {
		exp := now.Add(time.Duration(expiresIn) * time.Second).UTC()
		t.ExpiresAt = &exp
	}
	return t
}

// IsExpired reports whether now is past the token expiry
func (t *Token) IsExpired(now time.Time) bool {
	if t == nil || t.ExpiresAt == nil {
		return false
	}
	return now.After(*t.ExpiresAt)
}

func (t *Token) clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}

// CredentialKey identifies a bundle: one per (application user, platform, platform account)
type CredentialKey struct {
	UserID    string   `json:"userId"`
	Platform  Platform `json:"platform"`
	AccountID string   `json:"platformAccountId"`
}

func (k CredentialKey) String() string {
	return k.UserID + ":" + string(k.Platform) + ":" + k.AccountID
}

// Validate checks that every key component is present
func (k CredentialKey) Validate() error {
	if strings.TrimSpace(k.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if _, err := ParsePlatform(string(k.Platform)); err != nil {
		return err
	}
	if strings.TrimSpace(k.AccountID) == "" {
		return fmt.Errorf("platform account id is required")
	}
	if strings.Contains(k.UserID, ":") {
		return fmt.Errorf("user id must not contain ':'")
	}
	return nil
}

// ParseCredentialKey parses "user:platform:account"
func ParseCredentialKey(s string) (CredentialKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return CredentialKey{}, fmt.Errorf("invalid credential key %q", s)
	}
	platform, err := ParsePlatform(parts[1])
	if err != nil {
		return CredentialKey{}, err
	}
	key := CredentialKey{UserID: parts[0], Platform: platform, AccountID: parts[2]}
	return key, key.Validate()
}

// PageCredentials are the Graph API tokens shared by Facebook and Instagram identities
type PageCredentials struct {
	UserAccessToken *Token `json:"userAccessToken,omitempty"`
	PageAccessToken *Token `json:"pageAccessToken,omitempty"`
	PageID          string `json:"pageId,omitempty"`
	PageName        string `json:"pageName,omitempty"`
}

// FacebookCredentials holds a Facebook page identity
type FacebookCredentials struct {
	PageCredentials
}

// InstagramCredentials holds an Instagram business account linked to a page
type InstagramCredentials struct {
	PageCredentials
	Username string `json:"username,omitempty"`
}

// LinkedInCredentials holds a LinkedIn member identity
type LinkedInCredentials struct {
	AccessToken  *Token `json:"accessToken,omitempty"`
	RefreshToken *Token `json:"refreshToken,omitempty"`
	MemberURN    string `json:"memberUrn,omitempty"`
}

// CredentialBundle is the full token set of one platform identity.
// Exactly one of Facebook, Instagram or LinkedIn is set, matching Platform.
type CredentialBundle struct {
	UserID      string                `json:"userId"`
	Platform    Platform              `json:"platform"`
	AccountID   string                `json:"platformAccountId"`
	Facebook    *FacebookCredentials  `json:"facebook,omitempty"`
	Instagram   *InstagramCredentials `json:"instagram,omitempty"`
	LinkedIn    *LinkedInCredentials  `json:"linkedin,omitempty"`
	AccountMeta map[string]string     `json:"accountMeta,omitempty"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// NewCredentialBundle creates an empty bundle with the variant for key.Platform allocated
func NewCredentialBundle(key CredentialKey, now time.Time) *CredentialBundle {
	b := &CredentialBundle{
		UserID:    key.UserID,
		Platform:  key.Platform,
		AccountID: key.AccountID,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	b.ensureVariant()
	return b
}

// Key returns the bundle identity
func (b *CredentialBundle) Key() CredentialKey {
	return CredentialKey{UserID: b.UserID, Platform: b.Platform, AccountID: b.AccountID}
}

func (b *CredentialBundle) ensureVariant() {
	switch b.Platform {
	case PlatformFacebook:
		if b.Facebook == nil {
			b.Facebook = &FacebookCredentials{}
		}
	case PlatformInstagram:
		if b.Instagram == nil {
			b.Instagram = &InstagramCredentials{}
		}
	case PlatformLinkedIn:
		if b.LinkedIn == nil {
			b.LinkedIn = &LinkedInCredentials{}
		}
	}
}

// pages returns the Graph API part of a Facebook or Instagram bundle
func (b *CredentialBundle) pages() *PageCredentials {
	switch b.Platform {
	case PlatformFacebook:
		if b.Facebook != nil {
			return &b.Facebook.PageCredentials
		}
	case PlatformInstagram:
		if b.Instagram != nil {
			return &b.Instagram.PageCredentials
		}
	}
	return nil
}

// Pages exposes the page credentials of a Facebook or Instagram bundle, nil otherwise
func (b *CredentialBundle) Pages() *PageCredentials {
	return b.pages()
}

// PrimaryToken is the token renewed first during refresh
func (b *CredentialBundle) PrimaryToken() *Token {
	switch b.Platform {
	case PlatformFacebook, PlatformInstagram:
		if p := b.pages(); p != nil {
			return p.UserAccessToken
		}
	case PlatformLinkedIn:
		if b.LinkedIn != nil {
			return b.LinkedIn.AccessToken
		}
	}
	return nil
}

// SecondaryToken is the delegated token derived from the primary one, if any
func (b *CredentialBundle) SecondaryToken() *Token {
	if p := b.pages(); p != nil {
		return p.PageAccessToken
	}
	return nil
}

// Tokens returns every token set on the bundle keyed by field name
func (b *CredentialBundle) Tokens() map[string]*Token {
	out := make(map[string]*Token)
	if p := b.pages(); p != nil {
		if p.UserAccessToken != nil {
			out["userAccessToken"] = p.UserAccessToken
		}
		if p.PageAccessToken != nil {
			out["pageAccessToken"] = p.PageAccessToken
		}
	}
	if b.Platform == PlatformLinkedIn && b.LinkedIn != nil {
		if b.LinkedIn.AccessToken != nil {
			out["accessToken"] = b.LinkedIn.AccessToken
		}
		if b.LinkedIn.RefreshToken != nil {
			out["refreshToken"] = b.LinkedIn.RefreshToken
		}
	}
	return out
}

// AnnotateExpiry marks each token expired when now is past its expiry
func (b *CredentialBundle) AnnotateExpiry(now time.Time) {
	for _, t := range b.Tokens() {
		t.Expired = t.IsExpired(now)
	}
}

// ClearExpiry drops read-time annotations before the bundle is written
func (b *CredentialBundle) ClearExpiry() {
	for _, t := range b.Tokens() {
		t.Expired = false
	}
}

// LastRefreshed is UpdatedAt, falling back to CreatedAt
func (b *CredentialBundle) LastRefreshed() time.Time {
	if !b.UpdatedAt.IsZero() {
		return b.UpdatedAt
	}
	return b.CreatedAt
}

// Validate checks that the variant matches the platform
func (b *CredentialBundle) Validate() error {
	if err := b.Key().Validate(); err != nil {
		return err
	}
	set := 0
	if b.Facebook != nil {
		set++
	}
	if b.Instagram != nil {
		set++
	}
	if b.LinkedIn != nil {
		set++
	}
	if set > 1 {
		return fmt.Errorf("bundle for %s carries more than one platform variant", b.Platform)
	}
	switch b.Platform {
	case PlatformFacebook:
		if b.Facebook == nil {
			return fmt.Errorf("facebook bundle without facebook credentials")
		}
	case PlatformInstagram:
		if b.Instagram == nil {
			return fmt.Errorf("instagram bundle without instagram credentials")
		}
	case PlatformLinkedIn:
		if b.LinkedIn == nil {
			return fmt.Errorf("linkedin bundle without linkedin credentials")
		}
	}
	return nil
}

// Clone returns a deep copy
func (b *CredentialBundle) Clone() *CredentialBundle {
	if b == nil {
		return nil
	}
	c := *b
	if b.Facebook != nil {
		fb := *b.Facebook
		fb.UserAccessToken = b.Facebook.UserAccessToken.clone()
		fb.PageAccessToken = b.Facebook.PageAccessToken.clone()
		c.Facebook = &fb
	}
	if b.Instagram != nil {
		ig := *b.Instagram
		ig.UserAccessToken = b.Instagram.UserAccessToken.clone()
		ig.PageAccessToken = b.Instagram.PageAccessToken.clone()
		c.Instagram = &ig
	}
	if b.LinkedIn != nil {
		li := *b.LinkedIn
		li.AccessToken = b.LinkedIn.AccessToken.clone()
		li.RefreshToken = b.LinkedIn.RefreshToken.clone()
		c.LinkedIn = &li
	}
	if b.AccountMeta != nil {
		c.AccountMeta = make(map[string]string, len(b.AccountMeta))
		for k, v := range b.AccountMeta {
			c.AccountMeta[k] = v
		}
	}
	return &c
}

// CredentialUpdate is a partial bundle. Nil fields are left untouched on save.
type CredentialUpdate struct {
	UserAccessToken      *Token            `json:"userAccessToken,omitempty"`
	PageAccessToken      *Token            `json:"pageAccessToken,omitempty"`
	PageID               *string           `json:"pageId,omitempty"`
	PageName             *string           `json:"pageName,omitempty"`
	Username             *string           `json:"username,omitempty"`
	LinkedInAccessToken  *Token            `json:"linkedinAccessToken,omitempty"`
	LinkedInRefreshToken *Token            `json:"linkedinRefreshToken,omitempty"`
	MemberURN            *string           `json:"memberUrn,omitempty"`
	AccountMeta          map[string]string `json:"accountMeta,omitempty"`
}

// ValidateFor rejects fields that do not belong to the platform variant
func (u CredentialUpdate) ValidateFor(p Platform) error {
	pageFields := u.UserAccessToken != nil || u.PageAccessToken != nil || u.PageID != nil || u.PageName != nil
	linkedInFields := u.LinkedInAccessToken != nil || u.LinkedInRefreshToken != nil || u.MemberURN != nil

	switch p {
	case PlatformFacebook:
		if linkedInFields {
			return fmt.Errorf("linkedin fields are not valid for facebook")
		}
		if u.Username != nil {
			return fmt.Errorf("username is only valid for instagram")
		}
	case PlatformInstagram:
		if linkedInFields {
			return fmt.Errorf("linkedin fields are not valid for instagram")
		}
	case PlatformLinkedIn:
		if pageFields || u.Username != nil {
			return fmt.Errorf("page fields are not valid for linkedin")
		}
	default:
		return fmt.Errorf("unsupported platform: %q", p)
	}
	return nil
}

// Apply merges the non-nil fields of u into b. Sibling tokens absent from u are kept.
func (b *CredentialBundle) Apply(u CredentialUpdate) {
	b.ensureVariant()

	if p := b.pages(); p != nil {
		if u.UserAccessToken != nil {
			p.UserAccessToken = u.UserAccessToken.clone()
		}
		if u.PageAccessToken != nil {
			p.PageAccessToken = u.PageAccessToken.clone()
		}
		if u.PageID != nil {
			p.PageID = *u.PageID
		}
		if u.PageName != nil {
			p.PageName = *u.PageName
		}
	}
	if b.Platform == PlatformInstagram && u.Username != nil {
		b.Instagram.Username = *u.Username
	}
	if b.Platform == PlatformLinkedIn {
		if u.LinkedInAccessToken != nil {
			b.LinkedIn.AccessToken = u.LinkedInAccessToken.clone()
		}
		if u.LinkedInRefreshToken != nil {
			b.LinkedIn.RefreshToken = u.LinkedInRefreshToken.clone()
		}
		if u.MemberURN != nil {
			b.LinkedIn.MemberURN = *u.MemberURN
		}
	}
	if len(u.AccountMeta) > 0 {
		if b.AccountMeta == nil {
			b.AccountMeta = make(map[string]string, len(u.AccountMeta))
		}
		for k, v := range u.AccountMeta {
			b.AccountMeta[k] = v
		}
	}
}

// StringPtr is a helper for building partial updates
func StringPtr(s string) *string {
	return &s
}
