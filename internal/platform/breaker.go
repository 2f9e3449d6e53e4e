package platform

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BreakerState is the state of an upstream circuit breaker
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// breaker stops calling a platform after consecutive transient failures.
// Remote client errors (bad code, revoked token) do not count: only
// failures accepted by countable trip it.
type breaker struct {
	name          string
	maxFailures   int
	cooldown      time.Duration
	halfOpenProbe int
	countable     func(error) bool
	now           func() time.Time
	logger        *logrus.Logger

	mu          sync.Mutex
	state       BreakerState
	failures    int
	probes      int
	successes   int
	lastFailure time.Time
}

func newBreaker(name string, maxFailures int, cooldown time.Duration, countable func(error) bool, logger *logrus.Logger) *breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &breaker{
		name:          name,
		maxFailures:   maxFailures,
		cooldown:      cooldown,
		halfOpenProbe: 1,
		countable:     countable,
		now:           time.Now,
		logger:        logger,
	}
}

// ErrBreakerOpen is returned without calling the platform while the breaker is open
type ErrBreakerOpen struct {
	Platform string
	Until    time.Time
}

func (e *ErrBreakerOpen) Error() string {
	return fmt.Sprintf("%s circuit breaker open until %s", e.Platform, e.Until.Format(time.RFC3339))
}

// allow reserves a call slot, moving open to half-open once the cooldown passed
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.cooldown {
			return &ErrBreakerOpen{Platform: b.name, Until: b.lastFailure.Add(b.cooldown)}
		}
		b.state = BreakerHalfOpen
		b.probes = 0
		b.successes = 0
		b.logger.WithField("platform", b.name).Info("Circuit breaker half-open")
		fallthrough
	case BreakerHalfOpen:
		if b.probes >= b.halfOpenProbe {
			return &ErrBreakerOpen{Platform: b.name, Until: b.lastFailure.Add(b.cooldown)}
		}
		b.probes++
	}
	return nil
}

func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.countable(err) {
		switch b.state {
		case BreakerHalfOpen:
			b.successes++
			if b.successes >= b.halfOpenProbe {
				b.state = BreakerClosed
				b.failures = 0
				b.logger.WithField("platform", b.name).Info("Circuit breaker closed")
			}
		case BreakerClosed:
			b.failures = 0
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
		if b.state != BreakerOpen {
			b.logger.WithFields(logrus.Fields{
				"platform": b.name,
				"failures": b.failures,
			}).Warn("Circuit breaker opened")
		}
		b.state = BreakerOpen
	}
}

// State reports the current state without transitioning it
func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
