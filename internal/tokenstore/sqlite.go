package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"socialhub/internal/migrations"
	"socialhub/internal/models"
	"socialhub/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend stores each bundle as a JSON document row. Documents are
// AES-GCM encrypted when SOCIALHUB_ENABLE_ENCRYPTION=true.
type SQLiteBackend struct {
	db        *sql.DB
	encryptor *encryptor
}

func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0o600) // #nosec G304 - validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	closeWith := func(cause error) (*SQLiteBackend, error) {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (close error: %v)", cause, closeErr)
		}
		return nil, cause
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return closeWith(fmt.Errorf("failed to ping database: %w", err))
	}
	if err := migrations.RunMigrations(ctx, db); err != nil {
		return closeWith(fmt.Errorf("failed to initialize schema: %w", err))
	}

	enc, err := newEncryptor()
	if err != nil {
		return closeWith(fmt.Errorf("failed to initialize encryptor: %w", err))
	}

	return &SQLiteBackend{db: db, encryptor: enc}, nil
}

func (s *SQLiteBackend) encode(bundle *models.CredentialBundle) (string, error) {
	data, err := json.Marshal(bundle)
	if err != nil {
		return "", err
	}
	return s.encryptor.Encrypt(string(data))
}

func (s *SQLiteBackend) decode(document string) (*models.CredentialBundle, error) {
	plain, err := s.encryptor.Decrypt(document)
	if err != nil {
		return nil, err
	}
	var bundle models.CredentialBundle
	if err := json.Unmarshal([]byte(plain), &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode credential document: %w", err)
	}
	return &bundle, nil
}

func (s *SQLiteBackend) Get(ctx context.Context, key models.CredentialKey) (*models.CredentialBundle, error) {
	var document string
	err := retryableDBOperation(ctx, "get credential", func() error {
		err := s.db.QueryRowContext(ctx,
			`SELECT document FROM credentials WHERE user_id = ? AND platform = ? AND account_id = ?`,
			key.UserID, string(key.Platform), key.AccountID,
		).Scan(&document)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.decode(document)
}

func (s *SQLiteBackend) Put(ctx context.Context, bundle *models.CredentialBundle) error {
	document, err := s.encode(bundle)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	return retryableDBOperation(ctx, "put credential", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO credentials (user_id, platform, account_id, document, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, platform, account_id)
			DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
			bundle.UserID, string(bundle.Platform), bundle.AccountID, document,
			bundle.CreatedAt.UTC(), bundle.UpdatedAt.UTC(),
		)
		return err
	})
}

func (s *SQLiteBackend) Delete(ctx context.Context, key models.CredentialKey) error {
	return retryableDBOperation(ctx, "delete credential", func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM credentials WHERE user_id = ? AND platform = ? AND account_id = ?`,
			key.UserID, string(key.Platform), key.AccountID,
		)
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
	})
}

func (s *SQLiteBackend) List(ctx context.Context) ([]*models.CredentialBundle, error) {
	type row struct{ key, document string }
	var rowsRead []row
	err := retryableDBOperation(ctx, "list credentials", func() error {
		rowsRead = rowsRead[:0]
		rows, err := s.db.QueryContext(ctx,
			`SELECT user_id || ':' || platform || ':' || account_id, document FROM credentials ORDER BY user_id, platform, account_id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.key, &r.document); err != nil {
				return err
			}
			rowsRead = append(rowsRead, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	var skipped *SkippedRecordsError
	out := make([]*models.CredentialBundle, 0, len(rowsRead))
	for _, r := range rowsRead {
		b, err := s.decode(r.document)
		if err != nil {
			skipped = skipped.skip(r.key, err)
			continue
		}
		out = append(out, b)
	}
	return listResult(out, skipped)
}

func (s *SQLiteBackend) GetMarker(ctx context.Context, name string) (time.Time, error) {
	var value time.Time
	err := retryableDBOperation(ctx, "get marker", func() error {
		err := s.db.QueryRowContext(ctx, `SELECT value FROM markers WHERE name = ?`, name).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return value, err
}

func (s *SQLiteBackend) SetMarker(ctx context.Context, name string, value time.Time) error {
	return retryableDBOperation(ctx, "set marker", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO markers (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
			name, value.UTC(),
		)
		return err
	})
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
