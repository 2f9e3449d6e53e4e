package tokenstore

import (
	"context"
	"errors"
	"sort"
	"time"

	apperrors "socialhub/internal/errors"
	"socialhub/internal/metrics"
	"socialhub/internal/models"
	"socialhub/internal/privacy"

	"github.com/sirupsen/logrus"
)

// Store is keyed CRUD over credential bundles with merge-on-save and lazy,
// read-time expiry. Read-merge-write for one key is serialized.
type Store struct {
	backend Backend
	locks   *keyLocks
	logger  *logrus.Logger
	now     func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(backend Backend, logger *logrus.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Store{
		backend: backend,
		locks:   newKeyLocks(),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the store clock
func (s *Store) Now() time.Time {
	return s.now()
}

// Save merges update into the stored bundle, creating it when absent.
// createdAt and tokens missing from update are preserved.
func (s *Store) Save(ctx context.Context, key models.CredentialKey, update models.CredentialUpdate) (*models.CredentialBundle, error) {
	if err := key.Validate(); err != nil {
		return nil, apperrors.NewValidationError("key", key.String(), err.Error())
	}
	if err := update.ValidateFor(key.Platform); err != nil {
		return nil, apperrors.NewValidationError("update", string(key.Platform), err.Error())
	}

	unlock := s.locks.Lock(keyString(key))
	defer unlock()

	now := s.now().UTC()
	bundle, err := s.backend.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		bundle = models.NewCredentialBundle(key, now)
	case err != nil:
		return nil, apperrors.NewPersistenceError("load credential", err).WithContext("key", s.maskKey(key))
	}

	bundle.Apply(update)
	bundle.UpdatedAt = now
	bundle.ClearExpiry()
	if err := bundle.Validate(); err != nil {
		return nil, apperrors.NewValidationError("bundle", key.String(), err.Error())
	}

	if err := s.backend.Put(ctx, bundle); err != nil {
		return nil, apperrors.NewPersistenceError("save credential", err).WithContext("key", s.maskKey(key))
	}

	s.logger.WithFields(logrus.Fields{
		"key":    s.maskKey(key),
		"tokens": len(bundle.Tokens()),
	}).Debug("Credential saved")

	out := bundle.Clone()
	out.AnnotateExpiry(now)
	return out, nil
}

// Load returns the bundle with every token annotated as expired or not
func (s *Store) Load(ctx context.Context, key models.CredentialKey) (*models.CredentialBundle, error) {
	if err := key.Validate(); err != nil {
		return nil, apperrors.NewValidationError("key", key.String(), err.Error())
	}

	bundle, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NewNotFoundError("credential", key.String())
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("load credential", err).WithContext("key", s.maskKey(key))
	}
	bundle.AnnotateExpiry(s.now())
	return bundle, nil
}

func (s *Store) Delete(ctx context.Context, key models.CredentialKey) error {
	if err := key.Validate(); err != nil {
		return apperrors.NewValidationError("key", key.String(), err.Error())
	}

	unlock := s.locks.Lock(keyString(key))
	defer unlock()

	err := s.backend.Delete(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return apperrors.NewNotFoundError("credential", key.String())
	}
	if err != nil {
		return apperrors.NewPersistenceError("delete credential", err).WithContext("key", s.maskKey(key))
	}

	s.logger.WithField("key", s.maskKey(key)).Info("Credential deleted")
	return nil
}

// ListStaleKeys returns keys whose last update is older than now-threshold
func (s *Store) ListStaleKeys(ctx context.Context, threshold time.Duration) ([]models.CredentialKey, error) {
	bundles, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-threshold)
	var keys []models.CredentialKey
	for _, b := range bundles {
		if b.LastRefreshed().Before(cutoff) {
			keys = append(keys, b.Key())
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// List returns every bundle of one application user
func (s *Store) List(ctx context.Context, userID string) ([]*models.CredentialBundle, error) {
	bundles, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]*models.CredentialBundle, 0)
	for _, b := range bundles {
		if b.UserID != userID {
			continue
		}
		b.AnnotateExpiry(now)
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

// listAll reads every bundle. Undecodable records are logged and left out.
func (s *Store) listAll(ctx context.Context) ([]*models.CredentialBundle, error) {
	bundles, err := s.backend.List(ctx)
	var skipped *SkippedRecordsError
	if errors.As(err, &skipped) {
		masked := make([]string, len(skipped.Records))
		for i, r := range skipped.Records {
			masked[i] = r
			if key, perr := models.ParseCredentialKey(r); perr == nil {
				masked[i] = s.maskKey(key)
			}
		}
		metrics.AddToCounter("credential_records_skipped_total", float64(len(skipped.Records)), nil, "Stored credentials left out of listings because they could not be decoded")
		s.logger.WithFields(logrus.Fields{
			"records": masked,
			"count":   len(skipped.Records),
			"error":   skipped.Err.Error(),
		}).Warn("Skipping undecodable credential records")
		return bundles, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("list credentials", err)
	}
	return bundles, nil
}

// LastRun returns the marker value, or the zero time when it was never set
func (s *Store) LastRun(ctx context.Context, name string) (time.Time, error) {
	t, err := s.backend.GetMarker(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, apperrors.NewPersistenceError("read marker", err).WithContext("marker", name)
	}
	return t, nil
}

func (s *Store) SetLastRun(ctx context.Context, name string, t time.Time) error {
	if err := s.backend.SetMarker(ctx, name, t); err != nil {
		return apperrors.NewPersistenceError("write marker", err).WithContext("marker", name)
	}
	return nil
}

// importBundle writes a complete bundle unless one already exists for its key
func (s *Store) importBundle(ctx context.Context, bundle *models.CredentialBundle) (bool, error) {
	key := bundle.Key()
	unlock := s.locks.Lock(keyString(key))
	defer unlock()

	_, err := s.backend.Get(ctx, key)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	return true, s.backend.Put(ctx, bundle)
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) maskKey(key models.CredentialKey) string {
	return privacy.MaskCredentialKey(key.UserID, string(key.Platform), key.AccountID)
}
