package client

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestPublishWithNilClientIsNoOp(t *testing.T) {
	p := NewNotificationPublisher(nil, zerolog.Nop())
	// Must not panic or block without a broker.
	p.PublishInvoiceEvent(context.Background(), "approved", "inv-1", "u-1",
		[]string{"owner"}, map[string]any{"invoice_number": "INV-1"})
}

func TestPublishWithNoRecipientsIsNoOp(t *testing.T) {
	p := NewNotificationPublisher(nil, zerolog.Nop())
	p.PublishInvoiceEvent(context.Background(), "approved", "inv-1", "u-1", nil, nil)
}
