package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"

	"socialhub/internal/constants"
	apperrors "socialhub/internal/errors"
	"socialhub/internal/metrics"
	"socialhub/internal/models"
	"socialhub/internal/privacy"

	"github.com/sirupsen/logrus"
)

// SnapshotStore persists one record per contact
type SnapshotStore interface {
	LoadAll(ctx context.Context) (map[string][]models.Message, error)
	Save(ctx context.Context, contactID string, messages []models.Message) error
}

// ApplyResult describes the outcome of a status update
type ApplyResult struct {
	ContactID string
	MessageID string
	Previous  models.MessageStatus
	Status    models.MessageStatus
	Found     bool
	Updated   bool
}

// Stats is the health snapshot of the ledger
type Stats struct {
	Contacts int `json:"contacts"`
	Messages int `json:"messages"`
}

// Ledger is the per-contact ordered, deduplicated message log.
// State is loaded once with Load and flushed to the SnapshotStore after every mutation.
type Ledger struct {
	mu          sync.RWMutex
	contacts    map[string][]models.Message
	maxMessages int
	store       SnapshotStore
	logger      *logrus.Logger
}

func New(store SnapshotStore, maxMessages int, logger *logrus.Logger) *Ledger {
	if maxMessages <= 0 {
		maxMessages = constants.DefaultLedgerMaxMessages
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Ledger{
		contacts:    make(map[string][]models.Message),
		maxMessages: maxMessages,
		store:       store,
		logger:      logger,
	}
}

// Load replaces the in-memory state with the last persisted snapshot
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	loaded, err := l.store.LoadAll(ctx)
	if err != nil {
		return apperrors.NewPersistenceError("load ledger", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.contacts = make(map[string][]models.Message, len(loaded))
	total, dropped := 0, 0
	for contactID, msgs := range loaded {
		if contactID == "" {
			dropped += len(msgs)
			continue
		}
		unique := dedupByID(msgs)
		dropped += len(msgs) - len(unique)
		if len(unique) > l.maxMessages {
			unique = unique[len(unique)-l.maxMessages:]
		}
		l.contacts[contactID] = unique
		total += len(unique)
	}

	entry := l.logger.WithFields(logrus.Fields{
		"contacts": len(l.contacts),
		"messages": total,
	})
	if dropped > 0 {
		entry = entry.WithField("dropped", dropped)
		entry.Warn("Message ledger loaded with duplicate or unkeyed records dropped")
		return nil
	}
	entry.Info("Message ledger loaded")
	return nil
}

// dedupByID keeps the first occurrence of every message id in arrival order
func dedupByID(msgs []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Append adds msg to the contact ledger. It returns false when a message with
// the same id is already present for that contact. The in-memory append stands
// even when persisting the snapshot fails; the persistence error is returned.
func (l *Ledger) Append(ctx context.Context, contactID string, msg models.Message) (bool, error) {
	contactID = models.NormalizeContactID(contactID)
	if contactID == "" {
		return false, apperrors.NewValidationError("contactId", contactID, "contact id is required")
	}
	if strings.TrimSpace(msg.ID) == "" {
		return false, apperrors.NewValidationError("id", msg.ID, "message id is required")
	}
	msg.ContactID = contactID

	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.contacts[contactID]
	for i := range existing {
		if existing[i].ID == msg.ID {
			metrics.IncrementCounter("ledger_duplicates_total", nil, "Messages skipped as duplicates")
			l.logger.WithFields(logrus.Fields{
				"contact_id": privacy.MaskContactID(contactID),
				"message_id": privacy.MaskMessageID(msg.ID),
			}).Debug("Duplicate message skipped")
			return false, nil
		}
	}

	updated := append(existing, msg)
	if len(updated) > l.maxMessages {
		drop := len(updated) - l.maxMessages
		updated = append([]models.Message(nil), updated[drop:]...)
	}
	l.contacts[contactID] = updated
	metrics.IncrementCounter("ledger_appends_total", map[string]string{"direction": string(msg.Direction)}, "Messages appended to the ledger")

	return true, l.persistLocked(ctx, contactID)
}

// ApplyStatus finds messageID across all contacts and applies the monotonic
// status rule. Outgoing messages win over incoming ones sharing the same id.
func (l *Ledger) ApplyStatus(ctx context.Context, messageID string, status models.MessageStatus) (ApplyResult, error) {
	result := ApplyResult{MessageID: messageID, Status: status}
	if strings.TrimSpace(messageID) == "" {
		return result, apperrors.NewValidationError("id", messageID, "message id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	contactID, idx, ok := l.findLocked(messageID)
	if !ok {
		return result, nil
	}

	msgs := l.contacts[contactID]
	result.Found = true
	result.ContactID = contactID
	result.Previous = msgs[idx].Status

	if !msgs[idx].Status.CanTransition(status) {
		result.Status = msgs[idx].Status
		return result, nil
	}

	msgs[idx].Status = status
	result.Updated = true
	metrics.IncrementCounter("ledger_status_updates_total", map[string]string{"status": string(status)}, "Message status transitions applied")

	return result, l.persistLocked(ctx, contactID)
}

func (l *Ledger) findLocked(messageID string) (string, int, bool) {
	var fallbackContact string
	fallbackIdx := -1

	for contactID, msgs := range l.contacts {
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			if msgs[i].Direction == models.DirectionOutgoing {
				return contactID, i, true
			}
			if fallbackIdx < 0 {
				fallbackContact, fallbackIdx = contactID, i
			}
		}
	}
	if fallbackIdx < 0 {
		return "", 0, false
	}
	return fallbackContact, fallbackIdx, true
}

// Query returns messages newer than since, ascending by timestamp. Stored order is untouched.
func (l *Ledger) Query(contactID string, since int64) []models.Message {
	contactID = models.NormalizeContactID(contactID)

	l.mu.RLock()
	msgs := l.contacts[contactID]
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Timestamp > since {
			out = append(out, m)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// Has reports whether the contact ledger holds messageID
func (l *Ledger) Has(contactID, messageID string) bool {
	contactID = models.NormalizeContactID(contactID)

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.contacts[contactID] {
		if m.ID == messageID {
			return true
		}
	}
	return false
}

// ListContacts summarizes every contact, most recent activity first.
// Contacts whose records cannot be summarized are skipped.
func (l *Ledger) ListContacts() []models.ContactSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	summaries := make([]models.ContactSummary, 0, len(l.contacts))
	for contactID, msgs := range l.contacts {
		summary, err := summarize(contactID, msgs)
		if err != nil {
			l.logger.WithFields(logrus.Fields{
				"contact_id": privacy.MaskContactID(contactID),
				"error":      err.Error(),
			}).Warn("Skipping malformed contact ledger")
			continue
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].LastTimestamp != summaries[j].LastTimestamp {
			return summaries[i].LastTimestamp > summaries[j].LastTimestamp
		}
		return summaries[i].ContactID < summaries[j].ContactID
	})
	return summaries
}

// Summary returns the summary of one contact
func (l *Ledger) Summary(contactID string) (models.ContactSummary, error) {
	contactID = models.NormalizeContactID(contactID)

	l.mu.RLock()
	defer l.mu.RUnlock()

	msgs, ok := l.contacts[contactID]
	if !ok {
		return models.ContactSummary{}, apperrors.NewNotFoundError("contact", contactID)
	}
	return summarize(contactID, msgs)
}

func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{Contacts: len(l.contacts)}
	for _, msgs := range l.contacts {
		stats.Messages += len(msgs)
	}
	return stats
}

func (l *Ledger) persistLocked(ctx context.Context, contactID string) error {
	if l.store == nil {
		return nil
	}
	snapshot := append([]models.Message(nil), l.contacts[contactID]...)
	if err := l.store.Save(ctx, contactID, snapshot); err != nil {
		l.logger.WithFields(logrus.Fields{
			"contact_id": privacy.MaskContactID(contactID),
			"error":      err.Error(),
		}).Error("Failed to persist contact ledger")
		return apperrors.NewPersistenceError("save ledger snapshot", err)
	}
	return nil
}

func summarize(contactID string, msgs []models.Message) (models.ContactSummary, error) {
	if contactID == "" {
		return models.ContactSummary{}, apperrors.NewValidationError("contactId", contactID, "empty contact id")
	}
	if len(msgs) == 0 {
		return models.ContactSummary{}, apperrors.NewValidationError("contactId", contactID, "contact ledger is empty")
	}

	summary := models.ContactSummary{
		ContactID:    contactID,
		DisplayName:  contactID,
		MessageCount: len(msgs),
	}

	last := -1
	var nameTimestamp int64 = -1
	for i, m := range msgs {
		if m.ID == "" {
			return models.ContactSummary{}, apperrors.NewValidationError("contactId", contactID, "message without id")
		}
		if m.Timestamp > 0 && (last < 0 || m.Timestamp >= msgs[last].Timestamp) {
			last = i
		}
		if m.ProfileName != "" && m.Timestamp >= nameTimestamp {
			summary.DisplayName = m.ProfileName
			nameTimestamp = m.Timestamp
		}
	}
	if last < 0 {
		last = len(msgs) - 1
	}

	summary.LastMessage = msgs[last].Text
	summary.LastTimestamp = msgs[last].Timestamp
	summary.LastMessageKind = msgs[last].Kind
	return summary, nil
}
