package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"socialhub/internal/constants"
	"socialhub/internal/models"
	"socialhub/internal/privacy"
	"socialhub/internal/security"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sirupsen/logrus"
)

const snapshotSchemaURL = "https://socialhub.local/schemas/ledger-snapshot.json"

const snapshotSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["contactId", "messages"],
  "properties": {
    "contactId": {"type": "string", "minLength": 1},
    "updatedAt": {"type": "integer"},
    "messages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "direction", "timestamp", "status"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "contactId": {"type": "string"},
          "direction": {"enum": ["incoming", "outgoing"]},
          "text": {"type": "string"},
          "kind": {"type": "string"},
          "timestamp": {"type": "integer", "minimum": 0},
          "status": {"enum": ["received", "failed", "sent", "delivered", "read"]},
          "profileName": {"type": "string"}
        }
      }
    }
  }
}`

// snapshotRecord is the on-disk shape of one contact ledger
type snapshotRecord struct {
	ContactID string           `json:"contactId"`
	UpdatedAt int64            `json:"updatedAt"`
	Messages  []models.Message `json:"messages"`
}

// FileSnapshotStore keeps one JSON file per contact under a directory.
// Files are replaced atomically and checked against a JSON schema when loaded.
type FileSnapshotStore struct {
	dir    string
	schema *jsonschema.Schema
	logger *logrus.Logger
	mu     sync.Mutex
}

func NewFileSnapshotStore(dir string, logger *logrus.Logger) (*FileSnapshotStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = constants.DefaultLedgerDir
	}
	if err := security.ValidateFilePath(dir); err != nil {
		return nil, fmt.Errorf("invalid ledger directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	schema, err := compileSnapshotSchema()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &FileSnapshotStore{dir: dir, schema: schema, logger: logger}, nil
}

func compileSnapshotSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(snapshotSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(snapshotSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add ledger schema: %w", err)
	}
	schema, err := c.Compile(snapshotSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile ledger schema: %w", err)
	}
	return schema, nil
}

func (s *FileSnapshotStore) pathFor(contactID string) (string, error) {
	path := filepath.Join(s.dir, url.PathEscape(contactID)+constants.LedgerFileExtension)
	if err := security.ValidateFilePathWithBase(path, s.dir); err != nil {
		return "", fmt.Errorf("invalid snapshot path for contact: %w", err)
	}
	return path, nil
}

// LoadAll reads every snapshot file. Unreadable or schema-invalid files are
// logged and left out of the result.
func (s *FileSnapshotStore) LoadAll(ctx context.Context) (map[string][]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]models.Message{}, nil
		}
		return nil, fmt.Errorf("failed to list ledger directory: %w", err)
	}

	out := make(map[string][]models.Message, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || filepath.Ext(entry.Name()) != constants.LedgerFileExtension {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		record, err := s.readRecord(path)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"file":  entry.Name(),
				"error": err.Error(),
			}).Warn("Skipping malformed ledger snapshot")
			continue
		}

		contactID := models.NormalizeContactID(record.ContactID)
		out[contactID] = append(out[contactID], record.Messages...)
	}
	return out, nil
}

func (s *FileSnapshotStore) readRecord(path string) (*snapshotRecord, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is built from the ledger directory listing
	if err != nil {
		return nil, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if err := s.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var record snapshotRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Save replaces the contact snapshot with a write to a temp file followed by a rename
func (s *FileSnapshotStore) Save(ctx context.Context, contactID string, messages []models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record := snapshotRecord{
		ContactID: contactID,
		UpdatedAt: time.Now().UnixMilli(),
		Messages:  messages,
	}
	if record.Messages == nil {
		record.Messages = []models.Message{}
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.pathFor(contactID)
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

	s.logger.WithFields(logrus.Fields{
		"contact_id": privacy.MaskContactID(contactID),
		"messages":   len(messages),
	}).Debug("Ledger snapshot written")
	return nil
}

// MemorySnapshotStore keeps snapshots in memory
type MemorySnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string][]models.Message
	saves     int
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string][]models.Message)}
}

func (m *MemorySnapshotStore) LoadAll(ctx context.Context) (map[string][]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]models.Message, len(m.snapshots))
	for k, v := range m.snapshots {
		out[k] = append([]models.Message(nil), v...)
	}
	return out, nil
}

func (m *MemorySnapshotStore) Save(ctx context.Context, contactID string, messages []models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[contactID] = append([]models.Message(nil), messages...)
	m.saves++
	return nil
}

// Saves returns how many snapshot writes were made
func (m *MemorySnapshotStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
