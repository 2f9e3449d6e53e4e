package service

import (
	"context"
	"strings"
	"time"

	"socialhub/internal/constants"
	apperrors "socialhub/internal/errors"
	"socialhub/internal/ledger"
	"socialhub/internal/models"
	"socialhub/internal/notify"
	"socialhub/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MessageLedger is the ledger surface used by the query API
type MessageLedger interface {
	Append(ctx context.Context, contactID string, msg models.Message) (bool, error)
	Query(contactID string, since int64) []models.Message
	ListContacts() []models.ContactSummary
	Summary(contactID string) (models.ContactSummary, error)
	Stats() ledger.Stats
}

// SubscriberCounter reports connected live-update subscribers
type SubscriberCounter interface {
	Count() int
}

// LocalMessage is a locally originated outgoing message, e.g. a send confirmation
type LocalMessage struct {
	ID          string `json:"id,omitempty"`
	ContactID   string `json:"contactId"`
	Text        string `json:"text"`
	Kind        string `json:"kind,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	ProfileName string `json:"profileName,omitempty"`
}

// PostResult reports whether a local message was new
type PostResult struct {
	Message  models.Message `json:"message"`
	Appended bool           `json:"appended"`
}

// Health is the health snapshot served at /health
type Health struct {
	Status      string `json:"status"`
	Contacts    int    `json:"contacts"`
	Messages    int    `json:"messages"`
	Subscribers int    `json:"subscribers"`
	Uptime      string `json:"uptime"`
}

// MessageService is the consumer-facing query surface over the ledger
type MessageService struct {
	ledger      MessageLedger
	publisher   notify.Publisher
	subscribers SubscriberCounter
	logger      *logrus.Logger
	errLogger   *apperrors.Logger
	started     time.Time
	now         func() time.Time
	newID       func() string
}

func NewMessageService(l MessageLedger, publisher notify.Publisher, subscribers SubscriberCounter, logger *logrus.Logger) *MessageService {
	if logger == nil {
		logger = logrus.New()
	}
	return &MessageService{
		ledger:      l,
		publisher:   publisher,
		subscribers: subscribers,
		logger:      logger,
		errLogger:   apperrors.NewLogger(logger),
		started:     time.Now(),
		now:         time.Now,
		newID:       func() string { return "local_" + uuid.NewString() },
	}
}

// Messages returns the contact's messages newer than since, oldest first
func (s *MessageService) Messages(contactID string, since int64) ([]models.Message, error) {
	id, err := validation.ValidateContactID(contactID)
	if err != nil {
		return nil, err
	}
	if since < 0 {
		since = 0
	}
	return s.ledger.Query(id, since), nil
}

// Contacts returns contact summaries, most recent activity first
func (s *MessageService) Contacts() []models.ContactSummary {
	return s.ledger.ListContacts()
}

// PostLocal records an outgoing message. Posting the same id twice is a no-op.
// A message without id gets a synthesized "local_" id.
func (s *MessageService) PostLocal(ctx context.Context, in LocalMessage) (*PostResult, error) {
	contactID, err := validation.ValidateContactID(in.ContactID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, apperrors.NewValidationError("text", "", "message text is required")
	}
	if err := validation.ValidateStringLength(in.Text, "text", 1, constants.MaxMessageTextLength); err != nil {
		return nil, err
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = s.newID()
	} else if err := validation.ValidateMessageID(id); err != nil {
		return nil, err
	}

	kind := in.Kind
	if kind == "" {
		kind = "text"
	}
	ts := in.Timestamp
	if ts <= 0 {
		ts = s.now().UnixMilli()
	}

	msg := models.Message{
		ID:          id,
		ContactID:   contactID,
		Direction:   models.DirectionOutgoing,
		Text:        in.Text,
		Kind:        kind,
		Timestamp:   ts,
		Status:      models.StatusSent,
		ProfileName: in.ProfileName,
	}

	appended, err := s.ledger.Append(ctx, contactID, msg)
	if err != nil {
		if !appended {
			return nil, err
		}
		s.errLogger.LogError(err, "Failed to persist local message", logrus.Fields{LogFieldOperation: "post_local"})
	}
	if !appended {
		return &PostResult{Message: msg, Appended: false}, nil
	}

	LogMessageEvent(ctx, s.logger, "local_message", msg)
	s.publish(notify.NewMessage(msg))
	if summary, err := s.ledger.Summary(contactID); err == nil {
		s.publish(notify.ContactUpdate(summary))
	}
	return &PostResult{Message: msg, Appended: true}, nil
}

// Health returns ledger counts and the number of live subscribers
func (s *MessageService) Health() Health {
	stats := s.ledger.Stats()
	h := Health{
		Status:   "ok",
		Contacts: stats.Contacts,
		Messages: stats.Messages,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	}
	if s.subscribers != nil {
		h.Subscribers = s.subscribers.Count()
	}
	return h
}

func (s *MessageService) publish(event notify.Event) {
	if s.publisher != nil {
		s.publisher.Publish(event)
	}
}
