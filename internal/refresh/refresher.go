package refresh

import (
	"context"
	"fmt"
	"time"

	apperrors "socialhub/internal/errors"
	"socialhub/internal/metrics"
	"socialhub/internal/models"
	"socialhub/internal/platform"
	"socialhub/internal/privacy"
	"socialhub/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Outcome classifies one credential refresh
type Outcome string

const (
	OutcomeRefreshed Outcome = "refreshed"
	OutcomePartial   Outcome = "partial"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

const defaultConcurrency = 4

// GraphAPI is the part of the Graph API client the refresher uses
type GraphAPI interface {
	ExchangeLongLived(ctx context.Context, token string) (*platform.TokenResponse, error)
	ListPages(ctx context.Context, userToken string) ([]platform.Page, error)
}

// LinkedInAPI is the part of the LinkedIn client the refresher uses
type LinkedInAPI interface {
	Refresh(ctx context.Context, refreshToken string) (*platform.TokenResponse, error)
}

// CredentialStore is the part of the token store the refresher uses
type CredentialStore interface {
	Load(ctx context.Context, key models.CredentialKey) (*models.CredentialBundle, error)
	Save(ctx context.Context, key models.CredentialKey, update models.CredentialUpdate) (*models.CredentialBundle, error)
	ListStaleKeys(ctx context.Context, threshold time.Duration) ([]models.CredentialKey, error)
	Now() time.Time
}

// Result is the outcome of refreshing one credential
type Result struct {
	Key     models.CredentialKey `json:"key"`
	Outcome Outcome              `json:"outcome"`
	Reason  string               `json:"reason,omitempty"`
	Err     error                `json:"-"`
}

// Summary counts the outcomes of one refresh run
type Summary struct {
	Total     int           `json:"total"`
	Refreshed int           `json:"refreshed"`
	Partial   int           `json:"partial"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Results   []Result      `json:"results"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"durationNs"`
}

// Add records one result
func (s *Summary) Add(r Result) {
	s.Results = append(s.Results, r)
	s.Total++
	switch r.Outcome {
	case OutcomeRefreshed:
		s.Refreshed++
	case OutcomePartial:
		s.Partial++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

// Refresher renews stored credentials against their platform. Concurrent
// refreshes of the same key share a single run.
type Refresher struct {
	store       CredentialStore
	graph       GraphAPI
	linkedin    LinkedInAPI
	group       singleflight.Group
	concurrency int
	logger      *logrus.Logger
	errLogger   *apperrors.Logger
}

// New builds a refresher. graph or linkedin may be nil when the platform is not configured.
func New(store CredentialStore, graph GraphAPI, linkedin LinkedInAPI, logger *logrus.Logger) *Refresher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Refresher{
		store:       store,
		graph:       graph,
		linkedin:    linkedin,
		concurrency: defaultConcurrency,
		logger:      logger,
		errLogger:   apperrors.NewLogger(logger),
	}
}

// RefreshKey refreshes one credential. Failures are reported in the result.
func (r *Refresher) RefreshKey(ctx context.Context, key models.CredentialKey) Result {
	v, _, _ := r.group.Do(key.String(), func() (interface{}, error) {
		return r.refresh(ctx, key), nil
	})
	return v.(Result)
}

// RefreshStale refreshes every credential not updated within threshold.
// One failing credential never stops the others.
func (r *Refresher) RefreshStale(ctx context.Context, threshold time.Duration) (Summary, error) {
	summary := Summary{StartedAt: r.store.Now()}
	start := time.Now()

	keys, err := r.store.ListStaleKeys(ctx, threshold)
	if err != nil {
		return summary, err
	}

	results := make([]Result, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			results[i] = r.RefreshKey(gctx, key)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		summary.Add(res)
	}
	summary.Duration = time.Since(start)

	metrics.SetGauge("refresh_last_run_failed", float64(summary.Failed), nil, "Failed credentials in the last refresh run")
	r.logger.WithFields(logrus.Fields{
		"total":     summary.Total,
		"refreshed": summary.Refreshed,
		"partial":   summary.Partial,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
		"duration":  summary.Duration.String(),
	}).Info("Token refresh run completed")
	return summary, nil
}

func (r *Refresher) refresh(ctx context.Context, key models.CredentialKey) Result {
	ctx, span := tracing.StartSpan(ctx, "refresh.credential",
		attribute.String("platform", string(key.Platform)),
	)
	defer span.End()

	res := r.refreshBundle(ctx, key)

	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	metrics.IncrementCounter("token_refresh_total", map[string]string{
		"platform": string(key.Platform),
		"outcome":  string(res.Outcome),
	}, "Credential refresh outcomes")

	fields := logrus.Fields{
		"key":     maskKey(key),
		"outcome": res.Outcome,
	}
	switch res.Outcome {
	case OutcomeFailed:
		tracing.RecordError(ctx, res.Err)
		r.errLogger.LogError(res.Err, "Credential refresh failed", fields)
	case OutcomePartial:
		r.errLogger.LogWarn(res.Err, "Credential refresh partially completed", fields)
	case OutcomeSkipped:
		r.logger.WithFields(fields).WithField("reason", res.Reason).Debug("Credential refresh skipped")
	default:
		r.logger.WithFields(fields).Info("Credential refreshed")
	}
	return res
}

func (r *Refresher) refreshBundle(ctx context.Context, key models.CredentialKey) Result {
	bundle, err := r.store.Load(ctx, key)
	if err != nil {
		return failed(key, err)
	}

	switch key.Platform {
	case models.PlatformFacebook, models.PlatformInstagram:
		return r.refreshGraph(ctx, key, bundle)
	case models.PlatformLinkedIn:
		return r.refreshLinkedIn(ctx, key, bundle)
	default:
		return failed(key, apperrors.NewValidationError("platform", string(key.Platform), "unsupported platform"))
	}
}

// refreshGraph renews the long-lived user token, then re-derives the page
// token from it. A page failure still keeps the renewed user token.
func (r *Refresher) refreshGraph(ctx context.Context, key models.CredentialKey, bundle *models.CredentialBundle) Result {
	primary := bundle.PrimaryToken()
	if primary == nil || primary.Value == "" {
		return skipped(key, "no user access token")
	}
	if r.graph == nil {
		return failed(key, apperrors.NewConfigError("meta.app_id", "graph api client is not configured"))
	}

	renewed, err := r.graph.ExchangeLongLived(ctx, primary.Value)
	if err != nil {
		return failed(key, err)
	}
	now := r.store.Now()
	update := models.CredentialUpdate{
		UserAccessToken: models.NewToken(renewed.AccessToken, renewed.ExpiresIn, now),
	}

	var pageErr error
	if pages := bundle.Pages(); pages != nil && pages.PageID != "" {
		pageErr = r.rederivePage(ctx, pages.PageID, renewed.AccessToken, now, &update)
	}

	if _, err := r.store.Save(ctx, key, update); err != nil {
		return failed(key, err)
	}
	if pageErr != nil {
		return Result{
			Key:     key,
			Outcome: OutcomePartial,
			Reason:  "page token not renewed",
			Err:     apperrors.NewPartialFailure("token refresh", pageErr).WithContext("platform", string(key.Platform)),
		}
	}
	return Result{Key: key, Outcome: OutcomeRefreshed}
}

func (r *Refresher) rederivePage(ctx context.Context, pageID, userToken string, now time.Time, update *models.CredentialUpdate) error {
	pages, err := r.graph.ListPages(ctx, userToken)
	if err != nil {
		return err
	}
	for _, p := range pages {
		if p.ID != pageID {
			continue
		}
		if p.AccessToken == "" {
			return fmt.Errorf("page %s returned no access token", pageID)
		}
		update.PageAccessToken = models.NewToken(p.AccessToken, 0, now)
		if p.Name != "" {
			update.PageName = models.StringPtr(p.Name)
		}
		return nil
	}
	return apperrors.NewNotFoundError("page", pageID)
}

func (r *Refresher) refreshLinkedIn(ctx context.Context, key models.CredentialKey, bundle *models.CredentialBundle) Result {
	if bundle.LinkedIn == nil || bundle.LinkedIn.RefreshToken == nil || bundle.LinkedIn.RefreshToken.Value == "" {
		return skipped(key, "no refresh token")
	}
	if bundle.LinkedIn.RefreshToken.Expired {
		return skipped(key, "refresh token expired")
	}
	if r.linkedin == nil {
		return failed(key, apperrors.NewConfigError("linkedin.client_id", "linkedin client is not configured"))
	}

	renewed, err := r.linkedin.Refresh(ctx, bundle.LinkedIn.RefreshToken.Value)
	if err != nil {
		return failed(key, err)
	}
	now := r.store.Now()
	update := models.CredentialUpdate{
		LinkedInAccessToken: models.NewToken(renewed.AccessToken, renewed.ExpiresIn, now),
	}
	if renewed.RefreshToken != "" {
		update.LinkedInRefreshToken = models.NewToken(renewed.RefreshToken, renewed.RefreshTokenExpiresIn, now)
	}

	if _, err := r.store.Save(ctx, key, update); err != nil {
		return failed(key, err)
	}
	return Result{Key: key, Outcome: OutcomeRefreshed}
}

func failed(key models.CredentialKey, err error) Result {
	return Result{Key: key, Outcome: OutcomeFailed, Reason: apperrors.GetUserMessage(err), Err: err}
}

func skipped(key models.CredentialKey, reason string) Result {
	return Result{Key: key, Outcome: OutcomeSkipped, Reason: reason}
}

func maskKey(key models.CredentialKey) string {
	return privacy.MaskCredentialKey(key.UserID, string(key.Platform), key.AccountID)
}
