package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	apperrors "socialhub/internal/errors"
	"socialhub/internal/metrics"
	"socialhub/internal/models"
	"socialhub/internal/platform"
	"socialhub/internal/refresh"
	"socialhub/internal/validation"

	"github.com/sirupsen/logrus"
)

// GraphAPI is the Graph API surface used to connect and verify Facebook and Instagram identities
type GraphAPI interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*platform.TokenResponse, error)
	ExchangeLongLived(ctx context.Context, token string) (*platform.TokenResponse, error)
	ListPages(ctx context.Context, userToken string) ([]platform.Page, error)
	DebugToken(ctx context.Context, token string) (*platform.TokenInfo, error)
	InstagramAccount(ctx context.Context, accountID, token string) (*platform.InstagramAccount, error)
}

// LinkedInAPI is the LinkedIn surface used to connect and verify members
type LinkedInAPI interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*platform.TokenResponse, error)
	UserInfo(ctx context.Context, accessToken string) (*platform.Profile, error)
}

// CredentialStore is the token store surface used by the credential service
type CredentialStore interface {
	Save(ctx context.Context, key models.CredentialKey, update models.CredentialUpdate) (*models.CredentialBundle, error)
	Load(ctx context.Context, key models.CredentialKey) (*models.CredentialBundle, error)
	Delete(ctx context.Context, key models.CredentialKey) error
	List(ctx context.Context, userID string) ([]*models.CredentialBundle, error)
	Now() time.Time
}

// Refresher renews credentials on demand
type Refresher interface {
	RefreshKey(ctx context.Context, key models.CredentialKey) refresh.Result
	RefreshStale(ctx context.Context, threshold time.Duration) (refresh.Summary, error)
}

// VerifyResult describes an externally supplied token
type VerifyResult struct {
	Platform  models.Platform `json:"platform"`
	Valid     bool            `json:"valid"`
	AccountID string          `json:"accountId,omitempty"`
	Name      string          `json:"name,omitempty"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	Scopes    []string        `json:"scopes,omitempty"`
}

// CredentialService is the token-management surface: OAuth connect,
// verification, lookup, deletion and manual refresh.
type CredentialService struct {
	store      CredentialStore
	graph      GraphAPI
	linkedin   LinkedInAPI
	refresher  Refresher
	staleAfter time.Duration
	logger     *logrus.Logger
	errLogger  *apperrors.Logger
}

func NewCredentialService(store CredentialStore, graph GraphAPI, linkedin LinkedInAPI, refresher Refresher, staleAfter time.Duration, logger *logrus.Logger) *CredentialService {
	if logger == nil {
		logger = logrus.New()
	}
	return &CredentialService{
		store:      store,
		graph:      graph,
		linkedin:   linkedin,
		refresher:  refresher,
		staleAfter: staleAfter,
		logger:     logger,
		errLogger:  apperrors.NewLogger(logger),
	}
}

func (s *CredentialService) graphClient() (GraphAPI, error) {
	if s.graph == nil {
		return nil, apperrors.NewConfigError("meta.app_id", "graph api is not configured")
	}
	return s.graph, nil
}

func (s *CredentialService) linkedInClient() (LinkedInAPI, error) {
	if s.linkedin == nil {
		return nil, apperrors.NewConfigError("linkedin.client_id", "linkedin api is not configured")
	}
	return s.linkedin, nil
}

// Verify checks a token against its platform. A token the platform rejects
// is reported as invalid, not as an error.
func (s *CredentialService) Verify(ctx context.Context, p models.Platform, token string) (*VerifyResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.NewValidationError("token", "", "token is required")
	}

	switch p {
	case models.PlatformFacebook, models.PlatformInstagram:
		graph, err := s.graphClient()
		if err != nil {
			return nil, err
		}
		info, err := graph.DebugToken(ctx, token)
		if err != nil {
			return nil, err
		}
		return &VerifyResult{
			Platform:  p,
			Valid:     info.IsValid,
			AccountID: info.UserID,
			ExpiresAt: info.Expiry(),
			Scopes:    info.Scopes,
		}, nil
	case models.PlatformLinkedIn:
		li, err := s.linkedInClient()
		if err != nil {
			return nil, err
		}
		profile, err := li.UserInfo(ctx, token)
		if err != nil {
			if isRejectedToken(err) {
				return &VerifyResult{Platform: p, Valid: false}, nil
			}
			return nil, err
		}
		return &VerifyResult{Platform: p, Valid: true, AccountID: profile.ID, Name: profile.Name}, nil
	default:
		return nil, apperrors.NewValidationError("platform", string(p), "unsupported platform")
	}
}

func isRejectedToken(err error) bool {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Code != apperrors.ErrCodeUpstreamAPI {
		return false
	}
	return appErr.StatusCode == http.StatusUnauthorized || appErr.StatusCode == http.StatusForbidden
}

// Connect exchanges an OAuth code and saves one bundle per discovered
// identity: every managed page for Facebook, every linked business account
// for Instagram, the member for LinkedIn.
func (s *CredentialService) Connect(ctx context.Context, userID string, p models.Platform, code, redirectURI string) ([]*models.CredentialBundle, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, apperrors.NewValidationError("code", "", "authorization code is required")
	}
	if err := validation.ValidateRedirectURI(redirectURI); err != nil {
		return nil, err
	}

	var (
		bundles []*models.CredentialBundle
		err     error
	)
	switch p {
	case models.PlatformFacebook, models.PlatformInstagram:
		bundles, err = s.connectGraph(ctx, userID, p, code, redirectURI)
	case models.PlatformLinkedIn:
		bundles, err = s.connectLinkedIn(ctx, userID, code, redirectURI)
	default:
		return nil, apperrors.NewValidationError("platform", string(p), "unsupported platform")
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.IncrementCounter("credential_connect_total", map[string]string{"platform": string(p), "result": result}, "OAuth connect attempts")
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		LogFieldPlatform: p,
		LogFieldCount:    len(bundles),
	}).Info("Credentials connected")
	return bundles, nil
}

func (s *CredentialService) connectGraph(ctx context.Context, userID string, p models.Platform, code, redirectURI string) ([]*models.CredentialBundle, error) {
	graph, err := s.graphClient()
	if err != nil {
		return nil, err
	}

	short, err := graph.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	long, err := graph.ExchangeLongLived(ctx, short.AccessToken)
	if err != nil {
		return nil, err
	}

	info, err := graph.DebugToken(ctx, long.AccessToken)
	if err != nil {
		return nil, err
	}
	if !info.IsValid {
		return nil, apperrors.NewAuthError("exchanged token failed verification")
	}

	pages, err := graph.ListPages(ctx, long.AccessToken)
	if err != nil {
		return nil, err
	}

	now := s.store.Now()
	userToken := models.NewToken(long.AccessToken, long.ExpiresIn, now)
	if userToken.ExpiresAt == nil {
		userToken.ExpiresAt = info.Expiry()
	}

	var bundles []*models.CredentialBundle
	for _, page := range pages {
		if page.ID == "" || page.AccessToken == "" {
			continue
		}
		update := models.CredentialUpdate{
			UserAccessToken: userToken,
			PageAccessToken: models.NewToken(page.AccessToken, 0, now),
			PageID:          models.StringPtr(page.ID),
			PageName:        models.StringPtr(page.Name),
			AccountMeta:     map[string]string{"platformUserId": info.UserID},
		}

		var key models.CredentialKey
		if p == models.PlatformFacebook {
			key = models.CredentialKey{UserID: userID, Platform: p, AccountID: page.ID}
			if page.Category != "" {
				update.AccountMeta["category"] = page.Category
			}
		} else {
			ig := page.InstagramBusinessAccount
			if ig == nil || ig.ID == "" {
				continue
			}
			key = models.CredentialKey{UserID: userID, Platform: p, AccountID: ig.ID}
			username := ig.Username
			if username == "" {
				if acct, err := graph.InstagramAccount(ctx, ig.ID, page.AccessToken); err == nil {
					username = acct.Username
				} else {
					s.errLogger.LogWarn(err, "Failed to look up instagram username", logrus.Fields{LogFieldPlatform: p})
				}
			}
			if username != "" {
				update.Username = models.StringPtr(username)
			}
		}

		bundle, err := s.store.Save(ctx, key, update)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, bundle)
	}

	if len(bundles) == 0 {
		if p == models.PlatformInstagram {
			return nil, apperrors.NewValidationError("code", "", "no instagram business account is linked to the user's pages")
		}
		return nil, apperrors.NewValidationError("code", "", "the user manages no facebook pages")
	}
	return bundles, nil
}

func (s *CredentialService) connectLinkedIn(ctx context.Context, userID, code, redirectURI string) ([]*models.CredentialBundle, error) {
	li, err := s.linkedInClient()
	if err != nil {
		return nil, err
	}

	tok, err := li.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	profile, err := li.UserInfo(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, apperrors.NewAuthError("linkedin userinfo returned no member id")
	}

	now := s.store.Now()
	update := models.CredentialUpdate{
		LinkedInAccessToken: models.NewToken(tok.AccessToken, tok.ExpiresIn, now),
		MemberURN:           models.StringPtr("urn:li:person:" + profile.ID),
	}
	if tok.RefreshToken != "" {
		update.LinkedInRefreshToken = models.NewToken(tok.RefreshToken, tok.RefreshTokenExpiresIn, now)
	}
	if profile.Name != "" {
		update.AccountMeta = map[string]string{"name": profile.Name}
	}

	key := models.CredentialKey{UserID: userID, Platform: models.PlatformLinkedIn, AccountID: profile.ID}
	bundle, err := s.store.Save(ctx, key, update)
	if err != nil {
		return nil, err
	}
	return []*models.CredentialBundle{bundle}, nil
}

// Get returns one stored credential with expiry annotations
func (s *CredentialService) Get(ctx context.Context, key models.CredentialKey) (*models.CredentialBundle, error) {
	return s.store.Load(ctx, key)
}

// List returns every credential of one application user
func (s *CredentialService) List(ctx context.Context, userID string) ([]*models.CredentialBundle, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return nil, err
	}
	return s.store.List(ctx, userID)
}

// Delete removes a credential, typically after revocation
func (s *CredentialService) Delete(ctx context.Context, key models.CredentialKey) error {
	return s.store.Delete(ctx, key)
}

// TriggerRefresh bypasses the scheduler gate. With a key only that
// credential is refreshed, otherwise every stale credential.
func (s *CredentialService) TriggerRefresh(ctx context.Context, key *models.CredentialKey) (refresh.Summary, error) {
	if s.refresher == nil {
		return refresh.Summary{}, apperrors.NewConfigError("tokens", "token refresher is not configured")
	}
	if key == nil {
		return s.refresher.RefreshStale(ctx, s.staleAfter)
	}

	if err := key.Validate(); err != nil {
		return refresh.Summary{}, apperrors.NewValidationError("key", key.String(), err.Error())
	}
	if _, err := s.store.Load(ctx, *key); err != nil {
		return refresh.Summary{}, err
	}

	start := time.Now()
	summary := refresh.Summary{StartedAt: s.store.Now()}
	summary.Add(s.refresher.RefreshKey(ctx, *key))
	summary.Duration = time.Since(start)
	return summary, nil
}
