// Package messaging connects PlanPipe's assistant to WhatsApp transports.
//
// A Service delivers inbound messages to an InboundHandler and sends the
// handler's reply through the transport's reply slot. Background results are
// pushed through the durable outbox (see OutboxPusher).
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// minPhoneDigits is the shortest accepted canonical phone number.
const minPhoneDigits = 6

// InboundHandler processes one inbound message and returns the immediate
// reply. An empty reply sends nothing.
type InboundHandler func(ctx context.Context, msg models.InboundMessage) string

// Service defines a pluggable message transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SetInboundHandler installs the handler for inbound messages. It must be
	// called before Start.
	SetInboundHandler(handler InboundHandler)

	// Start begins receiving inbound messages.
	Start(ctx context.Context) error

	// Stop stops background processing and waits for in-flight handlers.
	Stop() error
}

// canonicalizePhone strips non-digits and checks the result is long enough.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, minPhoneDigits)
	}
	if canonical != recipient {
		slog.Debug("messaging.canonicalizePhone: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
