package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"socialhub/internal/models"
)

// ErrNotFound is returned by backends when a bundle or marker is absent
var ErrNotFound = errors.New("credential not found")

// SkippedRecordsError is returned by List alongside the readable bundles when
// some stored records could not be decoded
type SkippedRecordsError struct {
	Records []string
	Err     error
}

func (e *SkippedRecordsError) Error() string {
	return fmt.Sprintf("skipped %d undecodable credential records: %v", len(e.Records), e.Err)
}

func (e *SkippedRecordsError) Unwrap() error {
	return e.Err
}

// skip records one undecodable record
func (e *SkippedRecordsError) skip(record string, err error) *SkippedRecordsError {
	if e == nil {
		e = &SkippedRecordsError{}
	}
	e.Records = append(e.Records, record)
	if e.Err == nil {
		e.Err = err
	}
	return e
}

// listResult turns the collected skips into List's error value
func listResult(out []*models.CredentialBundle, skipped *SkippedRecordsError) ([]*models.CredentialBundle, error) {
	if skipped != nil {
		return out, skipped
	}
	return out, nil
}

// Backend is the durable keyed storage behind a Store. Implementations store
// whole bundles; merging and expiry live in Store.
type Backend interface {
	Get(ctx context.Context, key models.CredentialKey) (*models.CredentialBundle, error)
	Put(ctx context.Context, bundle *models.CredentialBundle) error
	Delete(ctx context.Context, key models.CredentialKey) error
	// List returns every readable bundle. Undecodable records are left out
	// and reported through a *SkippedRecordsError.
	List(ctx context.Context) ([]*models.CredentialBundle, error)
	GetMarker(ctx context.Context, name string) (time.Time, error)
	SetMarker(ctx context.Context, name string, value time.Time) error
	Close() error
}

// BuildBackendFromDSN picks a backend by DSN scheme:
// file://dir, sqlite://path, postgres://..., memory://
func BuildBackendFromDSN(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("token store dsn is empty")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid token store dsn: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewFileBackend(path)
	case "memory", "mem":
		return NewMemoryBackend(), nil
	case "sqlite", "sqlite3":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewSQLiteBackend(path)
	case "postgres", "postgresql":
		return NewPostgresBackend(dsn)
	default:
		return nil, fmt.Errorf("unsupported token store scheme: %s", parsed.Scheme)
	}
}

// dsnPath extracts a filesystem path. "file://data/tokens" is relative
// (host "data"), "file:///var/lib/tokens" is absolute.
func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Host + parsed.Path
	if path == "" {
		path = parsed.Opaque
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("token store dsn %q has no path", raw)
	}
	return path, nil
}

func keyString(key models.CredentialKey) string {
	return key.String()
}
