package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"socialhub/internal/models"
	"socialhub/internal/security"
)

const markersFile = "markers.json"

// FileBackend stores one JSON document per platform (instagram.json, ...)
// mapping "user:platform:account" to the bundle, plus markers.json.
// Every write replaces the whole document through a temp file and rename.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := security.ValidateFilePath(dir); err != nil {
		return nil, fmt.Errorf("invalid token store directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create token store directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) partitionPath(platform models.Platform) (string, error) {
	path := filepath.Join(f.dir, string(platform)+".json")
	if err := security.ValidateFilePathWithBase(path, f.dir); err != nil {
		return "", err
	}
	return path, nil
}

// readPartition keeps entries undecoded so one bad bundle does not hide the
// others, and rewrites preserve it untouched
func (f *FileBackend) readPartition(platform models.Platform) (map[string]json.RawMessage, string, error) {
	path, err := f.partitionPath(platform)
	if err != nil {
		return nil, "", err
	}
	out := make(map[string]json.RawMessage)
	if err := readJSON(path, &out); err != nil {
		return nil, "", err
	}
	return out, path, nil
}

func decodeBundle(raw json.RawMessage) (*models.CredentialBundle, error) {
	var b *models.CredentialBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to decode credential document: %w", err)
	}
	return b, nil
}

func (f *FileBackend) Get(ctx context.Context, key models.CredentialKey) (*models.CredentialBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	part, _, err := f.readPartition(key.Platform)
	if err != nil {
		return nil, err
	}
	raw, ok := part[keyString(key)]
	if !ok {
		return nil, ErrNotFound
	}
	b, err := decodeBundle(raw)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	return b, nil
}

func (f *FileBackend) Put(ctx context.Context, bundle *models.CredentialBundle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	part, path, err := f.readPartition(bundle.Platform)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	part[keyString(bundle.Key())] = raw
	return writeJSON(path, part)
}

func (f *FileBackend) Delete(ctx context.Context, key models.CredentialKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	part, path, err := f.readPartition(key.Platform)
	if err != nil {
		return err
	}
	k := keyString(key)
	if _, ok := part[k]; !ok {
		return ErrNotFound
	}
	delete(part, k)
	return writeJSON(path, part)
}

func (f *FileBackend) List(ctx context.Context) ([]*models.CredentialBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		out     []*models.CredentialBundle
		skipped *SkippedRecordsError
	)
	for _, platform := range models.Platforms {
		part, _, err := f.readPartition(platform)
		if err != nil {
			skipped = skipped.skip(string(platform)+".json", err)
			continue
		}
		keys := make([]string, 0, len(part))
		for k := range part {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b, err := decodeBundle(part[k])
			if err != nil {
				skipped = skipped.skip(k, err)
				continue
			}
			if b != nil {
				out = append(out, b)
			}
		}
	}
	return listResult(out, skipped)
}

func (f *FileBackend) GetMarker(ctx context.Context, name string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	markers := make(map[string]time.Time)
	if err := readJSON(filepath.Join(f.dir, markersFile), &markers); err != nil {
		return time.Time{}, err
	}
	v, ok := markers[name]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return v, nil
}

func (f *FileBackend) SetMarker(ctx context.Context, name string, value time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, markersFile)
	markers := make(map[string]time.Time)
	if err := readJSON(path, &markers); err != nil {
		return err
	}
	markers[name] = value.UTC()
	return writeJSON(path, markers)
}

func (f *FileBackend) Close() error {
	return nil
}

// readJSON leaves v untouched when the file does not exist
func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path) // #nosec G304 - path is derived from the configured store directory
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
