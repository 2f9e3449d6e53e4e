package tokenstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"socialhub/internal/models"
	"socialhub/internal/security"

	"github.com/sirupsen/logrus"
)

// legacyRecord is the flat per-key shape written by older deployments:
// plain string tokens with one bundle-level expiry.
type legacyRecord struct {
	UserAccessToken string            `json:"userAccessToken"`
	PageAccessToken string            `json:"pageAccessToken"`
	AccessToken     string            `json:"accessToken"`
	RefreshToken    string            `json:"refreshToken"`
	PageID          string            `json:"pageId"`
	PageName        string            `json:"pageName"`
	Username        string            `json:"username"`
	MemberURN       string            `json:"memberUrn"`
	AccountMeta     map[string]string `json:"accountMeta"`
	ExpiresIn       int64             `json:"expiresIn"`
	ExpiresAt       legacyTime        `json:"expiresAt"`
	CreatedAt       legacyTime        `json:"createdAt"`
	UpdatedAt       legacyTime        `json:"updatedAt"`
}

// legacyTime accepts epoch milliseconds or RFC 3339 strings
type legacyTime struct {
	time.Time
}

func (t *legacyTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.Time = time.UnixMilli(ms).UTC()
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid legacy time %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid legacy time %s: %w", data, err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

// MigrateLegacyFile imports a flat {"user:platform:account": {...}} file into
// store. Existing bundles win. Malformed entries are logged and skipped. The
// file is renamed to <path>.migrated once every entry was handled, so the
// import runs once.
func MigrateLegacyFile(ctx context.Context, path string, store *Store, logger *logrus.Logger) (int, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := security.ValidateFilePath(path); err != nil {
		return 0, fmt.Errorf("invalid legacy token file: %w", err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read legacy token file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("failed to parse legacy token file: %w", err)
	}

	imported := 0
	for k, entry := range raw {
		key, err := models.ParseCredentialKey(k)
		if err != nil {
			logger.WithError(err).Warn("Skipping legacy credential with malformed key")
			continue
		}
		var rec legacyRecord
		if err := json.Unmarshal(entry, &rec); err != nil {
			logger.WithError(err).WithField("platform", key.Platform).Warn("Skipping malformed legacy credential")
			continue
		}

		bundle := rec.toBundle(key, store.Now())
		if err := bundle.Validate(); err != nil {
			logger.WithError(err).WithField("platform", key.Platform).Warn("Skipping invalid legacy credential")
			continue
		}

		ok, err := store.importBundle(ctx, bundle)
		if err != nil {
			return imported, fmt.Errorf("failed to import legacy credential: %w", err)
		}
		if ok {
			imported++
		}
	}

	if err := os.Rename(path, path+".migrated"); err != nil {
		return imported, fmt.Errorf("failed to mark legacy token file as migrated: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"entries":  len(raw),
		"imported": imported,
	}).Info("Legacy token file migrated")
	return imported, nil
}

func (r legacyRecord) toBundle(key models.CredentialKey, now time.Time) *models.CredentialBundle {
	created := r.CreatedAt.Time
	if created.IsZero() {
		created = now
	}
	bundle := models.NewCredentialBundle(key, created)
	if !r.UpdatedAt.IsZero() {
		bundle.UpdatedAt = r.UpdatedAt.Time
	}

	// The bundle-level expiry belongs to the primary token
	primary := func(value string) *models.Token {
		if value == "" {
			return nil
		}
		t := &models.Token{Value: value, ExpiresIn: r.ExpiresIn}
		switch {
		case !r.ExpiresAt.IsZero():
			exp := r.ExpiresAt.Time
			t.ExpiresAt = &exp
		case r.ExpiresIn > 0:
			exp := bundle.LastRefreshed().Add(time.Duration(r.ExpiresIn) * time.Second).UTC()
			t.ExpiresAt = &exp
		}
		return t
	}
	plain := func(value string) *models.Token {
		if value == "" {
			return nil
		}
		return &models.Token{Value: value}
	}

	update := models.CredentialUpdate{AccountMeta: r.AccountMeta}
	switch key.Platform {
	case models.PlatformFacebook, models.PlatformInstagram:
		update.UserAccessToken = primary(r.UserAccessToken)
		update.PageAccessToken = plain(r.PageAccessToken)
		if r.PageID != "" {
			update.PageID = models.StringPtr(r.PageID)
		}
		if r.PageName != "" {
			update.PageName = models.StringPtr(r.PageName)
		}
		if key.Platform == models.PlatformInstagram && r.Username != "" {
			update.Username = models.StringPtr(r.Username)
		}
	case models.PlatformLinkedIn:
		update.LinkedInAccessToken = primary(r.AccessToken)
		update.LinkedInRefreshToken = plain(r.RefreshToken)
		if r.MemberURN != "" {
			update.MemberURN = models.StringPtr(r.MemberURN)
		}
	}
	bundle.Apply(update)
	return bundle
}
