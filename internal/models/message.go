package models

// Direction tells whether a message came from the contact or was sent to it
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MessageStatus is the delivery state of a message
type MessageStatus string

const (
	StatusReceived  MessageStatus = "received"
	StatusFailed    MessageStatus = "failed"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses: failed(0) < sent(1) < delivered(2) < read(3).
// received shares rank 0 with failed but is not absorbing. Unknown statuses rank -1.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusFailed, StatusReceived:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// IsDeliveryStatus reports whether s can be reported by a status event
func (s MessageStatus) IsDeliveryStatus() bool {
	switch s {
	case StatusFailed, StatusSent, StatusDelivered, StatusRead:
		return true
	}
	return false
}

// CanTransition applies the monotonic status rule. failed is absorbing and
// reachable from any state; otherwise only strictly higher ranks apply.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if !next.IsDeliveryStatus() {
		return false
	}
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return next.Rank() > s.Rank()
}

// Message is one entry of a contact ledger
type Message struct {
	ID          string        `json:"id"`
	ContactID   string        `json:"contactId"`
	Direction   Direction     `json:"direction"`
	Text        string        `json:"text"`
	Kind        string        `json:"kind"`
	Timestamp   int64         `json:"timestamp"`
	Status      MessageStatus `json:"status"`
	ProfileName string        `json:"profileName,omitempty"`
}

// ContactSummary is the contact-list view of one ledger
type ContactSummary struct {
	ContactID       string `json:"contactId"`
	DisplayName     string `json:"name"`
	LastMessage     string `json:"lastMessage"`
	LastTimestamp   int64  `json:"lastTimestamp"`
	MessageCount    int    `json:"messageCount"`
	LastMessageKind string `json:"lastMessageKind,omitempty"`
}
