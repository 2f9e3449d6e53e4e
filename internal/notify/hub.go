package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"socialhub/internal/constants"
	"socialhub/internal/metrics"
	"socialhub/internal/models"

	"github.com/sirupsen/logrus"
)

// Event is one live update pushed to subscribers
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// NewMessageData is the payload of a new_message event
type NewMessageData struct {
	ContactID string         `json:"contactId"`
	Message   models.Message `json:"message"`
}

// ContactUpdateData is the payload of a contact_update event
type ContactUpdateData struct {
	ContactID   string `json:"contactId"`
	Name        string `json:"name"`
	LastMessage string `json:"lastMessage"`
	Timestamp   int64  `json:"timestamp"`
}

// StatusUpdateData is the payload of a message_status_update event
type StatusUpdateData struct {
	MessageID   string               `json:"messageId"`
	Status      models.MessageStatus `json:"status"`
	RecipientID string               `json:"recipientId"`
}

// Publisher emits live updates
type Publisher interface {
	Publish(event Event)
}

// Subscription receives events on C until it is closed. C is closed when the
// subscriber unsubscribes or is dropped for falling behind.
type Subscription struct {
	ID     uint64
	C      <-chan Event
	ch     chan Event
	closed bool
}

// Hub fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full is disconnected.
type Hub struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     atomic.Uint64
	bufferSize int
	maxSubs    int
	logger     *logrus.Logger
	now        func() time.Time
}

func NewHub(bufferSize int, logger *logrus.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = constants.DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		subs:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
		maxSubs:    constants.DefaultMaxSubscribers,
		logger:     logger,
		now:        time.Now,
	}
}

// Subscribe registers a new subscriber. It returns false when the hub is full.
func (h *Hub) Subscribe() (*Subscription, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxSubs > 0 && len(h.subs) >= h.maxSubs {
		return nil, false
	}

	ch := make(chan Event, h.bufferSize)
	sub := &Subscription{ID: h.nextID.Add(1), C: ch, ch: ch}
	h.subs[sub.ID] = sub
	metrics.SetGauge("live_subscribers", float64(len(h.subs)), nil, "Connected live update subscribers")
	return sub, true
}

// Unsubscribe removes a subscriber. Calling it twice is safe.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(h.subs, sub.ID)
	close(sub.ch)
	metrics.SetGauge("live_subscribers", float64(len(h.subs)), nil, "Connected live update subscribers")
}

func (h *Hub) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = h.now().UnixMilli()
	}

	var slow []*Subscription

	h.mu.RLock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- event:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	metrics.IncrementCounter("live_events_total", map[string]string{"type": event.Type}, "Live update events published")
	if len(slow) == 0 {
		return
	}

	h.mu.Lock()
	for _, sub := range slow {
		h.removeLocked(sub)
		h.logger.WithFields(logrus.Fields{
			"subscriber_id": sub.ID,
			"event_type":    event.Type,
		}).Warn("Disconnecting slow live update subscriber")
	}
	h.mu.Unlock()
	metrics.AddToCounter("live_subscribers_dropped_total", float64(len(slow)), nil, "Subscribers dropped for a full buffer")
}

// Count returns the number of connected subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		h.removeLocked(sub)
	}
}

// NewMessage builds a new_message event
func NewMessage(msg models.Message) Event {
	return Event{Type: models.EventNewMessage, Data: NewMessageData{ContactID: msg.ContactID, Message: msg}}
}

// ContactUpdate builds a contact_update event
func ContactUpdate(summary models.ContactSummary) Event {
	return Event{Type: models.EventContactUpdate, Data: ContactUpdateData{
		ContactID:   summary.ContactID,
		Name:        summary.DisplayName,
		LastMessage: summary.LastMessage,
		Timestamp:   summary.LastTimestamp,
	}}
}

// StatusUpdate builds a message_status_update event
func StatusUpdate(messageID string, status models.MessageStatus, recipientID string) Event {
	return Event{Type: models.EventStatusUpdate, Data: StatusUpdateData{
		MessageID:   messageID,
		Status:      status,
		RecipientID: recipientID,
	}}
}
