package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"socialhub/internal/constants"
	apperrors "socialhub/internal/errors"
	"socialhub/internal/ledger"
	"socialhub/internal/metrics"
	"socialhub/internal/models"
	"socialhub/internal/notify"
	"socialhub/internal/privacy"
	"socialhub/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Ledger is the part of the message ledger the processor writes to
type Ledger interface {
	Append(ctx context.Context, contactID string, msg models.Message) (bool, error)
	ApplyStatus(ctx context.Context, messageID string, status models.MessageStatus) (ledger.ApplyResult, error)
	Summary(contactID string) (models.ContactSummary, error)
}

// Result counts what one payload did
type Result struct {
	Recognized    bool `json:"recognized"`
	Appended      int  `json:"appended"`
	Duplicates    int  `json:"duplicates"`
	Invalid       int  `json:"invalid"`
	StatusUpdates int  `json:"statusUpdates"`
	StatusIgnored int  `json:"statusIgnored"`
	Errors        int  `json:"errors"`
}

// Processor turns WhatsApp Cloud API webhook payloads into ledger updates and
// live notifications. Payloads are queued and drained by a single worker so
// arrival order is kept.
type Processor struct {
	ledger        Ledger
	publisher     notify.Publisher
	logger        *logrus.Logger
	errLogger     *apperrors.Logger
	queue         chan *models.WebhookPayload
	inlineTimeout time.Duration
	now           func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

func NewProcessor(l Ledger, publisher notify.Publisher, queueSize int, logger *logrus.Logger) *Processor {
	if queueSize <= 0 {
		queueSize = constants.DefaultWebhookQueueSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Processor{
		ledger:        l,
		publisher:     publisher,
		logger:        logger,
		errLogger:     apperrors.NewLogger(logger),
		queue:         make(chan *models.WebhookPayload, queueSize),
		inlineTimeout: time.Duration(constants.DefaultWebhookInlineTimeoutS) * time.Second,
		now:           time.Now,
	}
}

// Start launches the queue worker
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("webhook processor is already running")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.worker()

	p.logger.WithField("queue_size", cap(p.queue)).Info("Webhook processor started")
	return nil
}

// Stop halts the worker after it has drained the queue
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	p.cancel()
	p.wg.Wait()
	p.logger.Info("Webhook processor stopped")
}

// Enqueue hands the payload to the worker without waiting for it to be processed.
// When the queue is full the payload is processed on its own goroutine under a
// bounded timeout instead of being dropped. Without a running worker it is
// processed inline.
func (p *Processor) Enqueue(ctx context.Context, payload *models.WebhookPayload) {
	p.mu.RLock()
	if !p.running {
		p.mu.RUnlock()
		p.runBounded(context.WithoutCancel(ctx), payload)
		return
	}
	defer p.mu.RUnlock()

	select {
	case p.queue <- payload:
		metrics.SetGauge("webhook_queue_depth", float64(len(p.queue)), nil, "Webhook payloads waiting for processing")
	default:
		metrics.IncrementCounter("webhook_queue_full_total", nil, "Webhook payloads processed outside the queue because it was full")
		p.logger.Warn("Webhook queue full, processing in background")
		// Stop waits on wg under the write lock, so Add cannot race with it.
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runBounded(context.WithoutCancel(ctx), payload)
		}()
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			return
		case payload := <-p.queue:
			p.runBounded(context.WithoutCancel(p.ctx), payload)
		}
	}
}

func (p *Processor) drain() {
	for {
		select {
		case payload := <-p.queue:
			p.runBounded(context.Background(), payload)
		default:
			return
		}
	}
}

// runBounded processes one payload under the inline timeout
func (p *Processor) runBounded(parent context.Context, payload *models.WebhookPayload) Result {
	ctx, cancel := context.WithTimeout(parent, p.inlineTimeout)
	defer cancel()

	result := p.Process(ctx, payload)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		p.errLogger.LogWarn(apperrors.NewTimeoutError("webhook processing", p.inlineTimeout.String()),
			"Webhook payload exceeded its processing deadline")
	}
	return result
}

// Process applies one payload. Errors are logged and counted, never returned.
func (p *Processor) Process(ctx context.Context, payload *models.WebhookPayload) Result {
	var result Result
	if payload == nil || payload.Object != constants.WhatsAppWebhookObject {
		metrics.IncrementCounter("webhook_payloads_total", map[string]string{"outcome": "ignored"}, "Webhook payloads received")
		return result
	}

	ctx, span := tracing.StartSpan(ctx, "webhook.process", attribute.Int("webhook.entries", len(payload.Entry)))
	defer span.End()

	start := p.now()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != constants.WhatsAppMessagesField {
				continue
			}
			result.Recognized = true
			p.processChange(ctx, change.Value, &result)
		}
	}

	outcome := "ignored"
	if result.Recognized {
		outcome = "processed"
	}
	metrics.IncrementCounter("webhook_payloads_total", map[string]string{"outcome": outcome}, "Webhook payloads received")
	metrics.RecordTimer("webhook_processing_duration", p.now().Sub(start), nil, "Webhook payload processing time")

	span.SetAttributes(
		attribute.Int("webhook.appended", result.Appended),
		attribute.Int("webhook.status_updates", result.StatusUpdates),
	)
	if result.Recognized {
		p.logger.WithFields(logrus.Fields{
			"appended":       result.Appended,
			"duplicates":     result.Duplicates,
			"invalid":        result.Invalid,
			"status_updates": result.StatusUpdates,
			"status_ignored": result.StatusIgnored,
			"errors":         result.Errors,
		}).Debug("Webhook payload processed")
	}
	return result
}

func (p *Processor) processChange(ctx context.Context, value models.WebhookChangeValue, result *Result) {
	profiles := make(map[string]string, len(value.Contacts))
	for _, c := range value.Contacts {
		if id := models.NormalizeContactID(c.WaID); id != "" && c.Profile.Name != "" {
			profiles[id] = c.Profile.Name
		}
	}

	for _, m := range value.Messages {
		p.processMessage(ctx, m, profiles, result)
	}
	for _, s := range value.Statuses {
		p.processStatus(ctx, s, result)
	}
}

func (p *Processor) processMessage(ctx context.Context, m models.WebhookMessage, profiles map[string]string, result *Result) {
	contactID := models.NormalizeContactID(m.From)
	if contactID == "" || strings.TrimSpace(m.ID) == "" || len(m.ID) > constants.MaxMessageIDLength {
		result.Invalid++
		p.logger.WithFields(logrus.Fields{
			"contact_id": privacy.MaskContactID(contactID),
			"message_id": privacy.MaskMessageID(m.ID),
		}).Warn("Skipping webhook message without sender or id")
		return
	}

	msg := models.Message{
		ID:          m.ID,
		ContactID:   contactID,
		Direction:   models.DirectionIncoming,
		Text:        messageText(m),
		Kind:        messageKind(m),
		Timestamp:   p.timestampMillis(m.Timestamp),
		Status:      models.StatusReceived,
		ProfileName: profiles[contactID],
	}

	appended, err := p.ledger.Append(ctx, contactID, msg)
	if err != nil {
		result.Errors++
		p.errLogger.LogError(err, "Failed to record inbound message", logrus.Fields{
			"contact_id": privacy.MaskContactID(contactID),
			"message_id": privacy.MaskMessageID(m.ID),
		})
	}
	if !appended {
		if err == nil {
			result.Duplicates++
		}
		return
	}

	result.Appended++
	metrics.IncrementCounter("webhook_messages_total", map[string]string{"kind": msg.Kind}, "Inbound messages appended from webhooks")

	p.publish(notify.NewMessage(msg))

	summary, sumErr := p.ledger.Summary(contactID)
	if sumErr != nil {
		summary = models.ContactSummary{
			ContactID:     contactID,
			DisplayName:   contactID,
			LastMessage:   msg.Text,
			LastTimestamp: msg.Timestamp,
		}
		if msg.ProfileName != "" {
			summary.DisplayName = msg.ProfileName
		}
	}
	p.publish(notify.ContactUpdate(summary))
}

func (p *Processor) processStatus(ctx context.Context, s models.WebhookStatus, result *Result) {
	status := models.MessageStatus(strings.ToLower(strings.TrimSpace(s.Status)))
	if !status.IsDeliveryStatus() || strings.TrimSpace(s.ID) == "" {
		result.StatusIgnored++
		return
	}

	res, err := p.ledger.ApplyStatus(ctx, s.ID, status)
	if err != nil {
		result.Errors++
		p.errLogger.LogError(err, "Failed to apply message status", logrus.Fields{
			"message_id": privacy.MaskMessageID(s.ID),
			"status":     string(status),
		})
	}
	if !res.Updated {
		if err == nil {
			result.StatusIgnored++
		}
		return
	}

	result.StatusUpdates++
	metrics.IncrementCounter("webhook_status_updates_total", map[string]string{"status": string(status)}, "Message status transitions from webhooks")
	p.publish(notify.StatusUpdate(s.ID, status, s.RecipientID))
}

func (p *Processor) publish(event notify.Event) {
	if p.publisher != nil {
		p.publisher.Publish(event)
	}
}

// timestampMillis converts a provider timestamp in seconds; missing or
// invalid values fall back to the receive time
func (p *Processor) timestampMillis(raw string) int64 {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return p.now().UnixMilli()
	}
	return secs * 1000
}

func messageKind(m models.WebhookMessage) string {
	if m.Type == "" {
		return "text"
	}
	return m.Type
}

func messageText(m models.WebhookMessage) string {
	if m.Text != nil {
		return m.Text.Body
	}
	for _, media := range []*models.WebhookMedia{m.Image, m.Video, m.Document, m.Audio} {
		if media != nil && media.Caption != "" {
			return media.Caption
		}
	}
	return "[" + messageKind(m) + "]"
}
