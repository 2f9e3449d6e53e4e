package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"socialhub/internal/constants"
	"socialhub/internal/models"

	_ "github.com/lib/pq"
)

const (
	postgresCredentialsTable = "socialhub_credentials"
	postgresMarkersTable     = "socialhub_markers"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresBackend stores bundles as text documents keyed by credential key.
// The connection and schema are set up lazily on first use.
type PostgresBackend struct {
	dsn       string
	opTimeout time.Duration
	openDB    sqlOpenFunc
	encryptor *encryptor

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	enc, err := newEncryptor()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}
	return &PostgresBackend{
		dsn:       dsn,
		opTimeout: time.Duration(constants.DefaultPostgresOpTimeoutSec) * time.Second,
		openDB:    sql.Open,
		encryptor: enc,
	}, nil
}

func (p *PostgresBackend) ensureReady(ctx context.Context) error {
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
		defer cancel()

		statements := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				cred_key TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				platform TEXT NOT NULL,
				account_id TEXT NOT NULL,
				document TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`, quoteIdentifier(postgresCredentialsTable)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS socialhub_credentials_updated_at ON %s (updated_at)`,
				quoteIdentifier(postgresCredentialsTable)),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY,
				value TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, quoteIdentifier(postgresMarkersTable)),
		}
		for _, stmt := range statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				p.initErr = err
				return
			}
		}
		p.db = db
	})
	return p.initErr
}

func (p *PostgresBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := p.ensureReady(ctx); err != nil {
		return nil, nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
	return opCtx, cancel, nil
}

func (p *PostgresBackend) decode(document string) (*models.CredentialBundle, error) {
	plain, err := p.encryptor.Decrypt(document)
	if err != nil {
		return nil, err
	}
	var bundle models.CredentialBundle
	if err := json.Unmarshal([]byte(plain), &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode credential document: %w", err)
	}
	return &bundle, nil
}

func (p *PostgresBackend) Get(ctx context.Context, key models.CredentialKey) (*models.CredentialBundle, error) {
	opCtx, cancel, err := p.withTimeout(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	query := fmt.Sprintf("SELECT document FROM %s WHERE cred_key = $1", quoteIdentifier(postgresCredentialsTable))
	var document string
	err = p.db.QueryRowContext(opCtx, query, keyString(key)).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p.decode(document)
}

func (p *PostgresBackend) Put(ctx context.Context, bundle *models.CredentialBundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	document, err := p.encryptor.Encrypt(string(data))
	if err != nil {
		return err
	}

	opCtx, cancel, err := p.withTimeout(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (cred_key, user_id, platform, account_id, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cred_key)
		DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`, quoteIdentifier(postgresCredentialsTable))
	_, err = p.db.ExecContext(opCtx, query,
		keyString(bundle.Key()), bundle.UserID, string(bundle.Platform), bundle.AccountID,
		document, bundle.CreatedAt.UTC(), bundle.UpdatedAt.UTC(),
	)
	return err
}

func (p *PostgresBackend) Delete(ctx context.Context, key models.CredentialKey) error {
	opCtx, cancel, err := p.withTimeout(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE cred_key = $1", quoteIdentifier(postgresCredentialsTable))
	res, err := p.db.ExecContext(opCtx, query, keyString(key))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) List(ctx context.Context) ([]*models.CredentialBundle, error) {
	opCtx, cancel, err := p.withTimeout(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	query := fmt.Sprintf("SELECT cred_key, document FROM %s ORDER BY cred_key", quoteIdentifier(postgresCredentialsTable))
	rows, err := p.db.QueryContext(opCtx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out     []*models.CredentialBundle
		skipped *SkippedRecordsError
	)
	for rows.Next() {
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, err
		}
		b, err := p.decode(doc)
		if err != nil {
			skipped = skipped.skip(key, err)
			continue
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return listResult(out, skipped)
}

func (p *PostgresBackend) GetMarker(ctx context.Context, name string) (time.Time, error) {
	opCtx, cancel, err := p.withTimeout(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer cancel()

	query := fmt.Sprintf("SELECT value FROM %s WHERE name = $1", quoteIdentifier(postgresMarkersTable))
	var value time.Time
	err = p.db.QueryRowContext(opCtx, query, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	return value, err
}

func (p *PostgresBackend) SetMarker(ctx context.Context, name string, value time.Time) error {
	opCtx, cancel, err := p.withTimeout(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (name, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, quoteIdentifier(postgresMarkersTable))
	_, err = p.db.ExecContext(opCtx, query, name, value.UTC())
	return err
}

func (p *PostgresBackend) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
