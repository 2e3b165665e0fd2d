package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/glamlab/funnelbot/internal/models"
	"github.com/glamlab/funnelbot/internal/twiliowhatsapp"
)

// TwilioService implements Service on the Twilio WhatsApp API. Inbound
// traffic arrives through WebhookHandler, which Twilio calls for every
// message sent to the business number.
type TwilioService struct {
	client   twiliowhatsapp.TemplateSender
	receipts chan models.Receipt
	inbound  chan models.InboundMessage
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
}

// Compile-time check that TwilioService implements Service.
var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a TwilioService around the given sender, which
// may be the real Twilio client or a mock.
func NewTwilioService(client twiliowhatsapp.TemplateSender) *TwilioService {
	return &TwilioService{
		client:   client,
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		inbound:  make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}
}

// Start is a no-op: Twilio pushes inbound traffic over the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.receipts)
		close(s.inbound)
	}()

	return nil
}

// SendTemplate sends a content template and emits a sent receipt.
func (s *TwilioService) SendTemplate(ctx context.Context, to string, contentSID string, variables map[string]string) (string, error) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return "", ErrServiceStopped
	}
	s.mu.RUnlock()

	sid, err := s.client.SendTemplate(ctx, to, contentSID, variables)
	if err != nil {
		s.safeEmitReceipt(models.Receipt{To: to, TemplateID: contentSID, Status: models.MessageStatusFailed, Time: time.Now().Unix()})
		return "", err
	}

	s.safeEmitReceipt(models.Receipt{To: to, TemplateID: contentSID, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return sid, nil
}

// Receipts returns the channel for outbound delivery receipts.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Inbound returns the channel for incoming messages.
func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// WebhookHandler handles inbound Twilio webhook requests. Twilio redelivers
// on non-2xx responses, so the handler always acknowledges with "ok": a
// malformed or unprocessable payload is logged and dropped, never bounced
// back into the provider's retry queue.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	defer func() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	}()

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	sid := r.FormValue("MessageSid")

	if from == "" {
		slog.Warn("Twilio webhook missing sender", "sid", sid)
		return
	}

	slog.Debug("Inbound WhatsApp message", "from", from, "sid", sid)

	s.safeEmitInbound(models.InboundMessage{
		MessageSID: sid,
		From:       from,
		Body:       body,
		Time:       time.Now().Unix(),
	})
}

func (s *TwilioService) safeEmitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService receipts channel blocked, dropping receipt", "to", receipt.To)
	}
}

func (s *TwilioService) safeEmitInbound(msg models.InboundMessage) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "from", msg.From)
		return
	}

	select {
	case s.inbound <- msg:
		slog.Debug("TwilioService emitted inbound message", "from", msg.From, "sid", msg.MessageSID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService inbound channel blocked, dropping message", "from", msg.From, "sid", msg.MessageSID)
	}
}
