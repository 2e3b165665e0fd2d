// Package messaging bridges the WhatsApp provider and the funnel: outbound
// template delivery with receipts, and inbound webhook messages surfaced on
// a channel.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/glamlab/funnelbot/internal/models"
)

const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and inbound channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction. It supports
// sending content templates and provides channels for receipts and inbound
// messages.
type Service interface {
	// SendTemplate sends a content template to a recipient and returns the
	// provider message SID.
	SendTemplate(ctx context.Context, to string, contentSID string, variables map[string]string) (string, error)

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of outbound delivery receipts.
	Receipts() <-chan models.Receipt

	// Inbound returns a channel of incoming messages.
	Inbound() <-chan models.InboundMessage
}
