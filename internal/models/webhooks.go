package models

// WhatsApp Cloud API webhook delivery
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry is one business account entry
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange wraps a single change notification
type WebhookChange struct {
	Field string             `json:"field"`
	Value WebhookChangeValue `json:"value"`
}

// WebhookChangeValue holds messages and/or statuses
type WebhookChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         WebhookMetadata   `json:"metadata"`
	Contacts         []WebhookContact  `json:"contacts,omitempty"`
	Messages         []WebhookMessage  `json:"messages,omitempty"`
	Statuses         []WebhookStatus   `json:"statuses,omitempty"`
}

// WebhookMetadata describes the receiving business number
type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// WebhookContact carries the sender profile
type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// WebhookMessage is one inbound message unit
type WebhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image    *WebhookMedia `json:"image,omitempty"`
	Document *WebhookMedia `json:"document,omitempty"`
	Audio    *WebhookMedia `json:"audio,omitempty"`
	Video    *WebhookMedia `json:"video,omitempty"`
}

// WebhookMedia is the media part of a non-text message
type WebhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

// WebhookStatus is one delivery status unit
type WebhookStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// Live update event types
const (
	EventNewMessage    = "new_message"
	EventContactUpdate = "contact_update"
	EventStatusUpdate  = "message_status_update"
)
