package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"socialhub/internal/constants"
	apperrors "socialhub/internal/errors"
	"socialhub/internal/metrics"
	"socialhub/internal/retry"
	"socialhub/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 1 << 20

// ClientOptions are the transport settings shared by every platform client
type ClientOptions struct {
	Timeout         time.Duration
	RatePerSec      float64
	Burst           int
	Retry           retry.BackoffConfig
	BreakerFailures int
	BreakerCooldown time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(constants.DefaultPlatformTimeoutSec) * time.Second
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = constants.DefaultPlatformRatePerSec
	}
	if o.Burst <= 0 {
		o.Burst = constants.DefaultPlatformBurst
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = retry.BackoffConfig{
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			MaxAttempts:  constants.DefaultUpstreamRetryAttempts,
			Jitter:       true,
		}
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}
	return o
}

// caller runs one logical platform call: rate limit, circuit breaker,
// retry on transient failures, one span and timer per call.
type caller struct {
	platform   string
	client     *http.Client
	limiter    *rate.Limiter
	backoff    *retry.Backoff
	breaker    *breaker
	logger     *logrus.Logger
	parseError func(body []byte) string
}

func newCaller(platform string, opts ClientOptions, httpClient *http.Client, parseError func([]byte) string, logger *logrus.Logger) *caller {
	opts = opts.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &caller{
		platform:   platform,
		client:     httpClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		backoff:    retry.NewBackoff(opts.Retry),
		breaker:    newBreaker(platform, opts.BreakerFailures, opts.BreakerCooldown, apperrors.IsRetryable, logger),
		logger:     logger,
		parseError: parseError,
	}
}

type requestFunc func(ctx context.Context) (*http.Request, error)

// do decodes a 2xx JSON body into out. Non-2xx answers become UpstreamError
// carrying the remote status and message.
func (c *caller) do(ctx context.Context, op string, newRequest requestFunc, out interface{}) error {
	ctx, span := tracing.StartSpan(ctx, c.platform+"."+op,
		attribute.String("platform", c.platform),
		attribute.String("operation", op),
	)
	defer span.End()

	labels := map[string]string{"platform": c.platform, "operation": op}
	start := time.Now()

	attempts := 0
	err := c.backoff.RetryWithPredicate(ctx, func() error {
		attempts++
		if err := c.breaker.allow(); err != nil {
			return apperrors.NewUpstreamError(c.platform, op, http.StatusServiceUnavailable, "temporarily unavailable", err)
		}
		err := c.once(ctx, op, newRequest, out)
		c.breaker.record(err)
		return err
	}, func(err error) bool {
		var open *ErrBreakerOpen
		if errors.As(err, &open) {
			return false
		}
		return apperrors.IsRetryable(err)
	})

	metrics.RecordTimer("platform_call_duration", time.Since(start), labels, "Platform API call latency")
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		if _, ok := apperrors.As(err); !ok {
			err = apperrors.NewUpstreamError(c.platform, op, 0, "", err)
		}
		metrics.IncrementCounter("platform_call_failures_total", labels, "Failed platform API calls")
		tracing.RecordError(ctx, err)
		c.logger.WithFields(logrus.Fields{
			"platform":  c.platform,
			"operation": op,
			"attempts":  attempts,
		}).WithError(err).Debug("Platform call failed")
		return err
	}
	metrics.IncrementCounter("platform_calls_total", labels, "Successful platform API calls")
	return nil
}

func (c *caller) once(ctx context.Context, op string, newRequest requestFunc, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeRateLimit, "platform rate limit wait aborted").
			WithContext("platform", c.platform)
	}

	req, err := newRequest(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to build platform request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewUpstreamError(c.platform, op, 0, "", scrubURLError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperrors.NewUpstreamError(c.platform, op, 0, "", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		remote := c.parseError(body)
		upstreamErr := apperrors.NewUpstreamError(c.platform, op, resp.StatusCode, remote,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
		if wait := parseRetryAfter(resp.Header.Get("Retry-After")); wait > 0 {
			return &throttledError{AppError: upstreamErr, wait: wait}
		}
		return upstreamErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewUpstreamError(c.platform, op, resp.StatusCode, "malformed response",
			fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// throttledError carries the Retry-After hint of a throttled response
type throttledError struct {
	*apperrors.AppError
	wait time.Duration
}

func (e *throttledError) RetryAfter() time.Duration { return e.wait }

func (e *throttledError) Unwrap() error { return e.AppError }

// parseRetryAfter accepts delay-seconds only; HTTP-date values are ignored
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// scrubURLError drops the request URL, which may carry tokens in its query
func scrubURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s request failed: %w", ue.Op, ue.Err)
	}
	return err
}
