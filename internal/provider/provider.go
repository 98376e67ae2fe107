package provider

import (
	"context"

	"github.com/notifykit/notifykit/internal/domain"
)

// Result stores provider call metadata for audit and attempt persistence.
type Result struct {
	StatusCode int    `json:"statusCode,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	Body       string `json:"body,omitempty"`
}

// EmailMessage is a fully resolved email payload.
type EmailMessage struct {
	To      string
	From    string
	Subject string
	Body    string
}

// PhoneMessage is a fully resolved SMS or voice-call payload.
type PhoneMessage struct {
	To   string
	From string
	Body string
}

// PushMessage is a fully resolved Web Push payload. Empty fields are
// omitted from the wire payload so strict client-side validators never see
// null values.
type PushMessage struct {
	Subscription domain.PushSubscription
	Title        string
	Body         string
}

// Adapters are thin capability interfaces over outbound transports. They
// never retry internally; transport errors propagate to the caller.
type (
	EmailSender interface {
		SendEmail(ctx context.Context, msg EmailMessage) (*Result, error)
	}

	SMSSender interface {
		SendSMS(ctx context.Context, msg PhoneMessage) (*Result, error)
	}

	CallSender interface {
		PlaceCall(ctx context.Context, msg PhoneMessage) (*Result, error)
	}

	PushSender interface {
		SendPush(ctx context.Context, msg PushMessage) (*Result, error)
	}
)

// SubscriberRemover drops a push subscription that will never deliver
// again, e.g. after the push service reports it gone.
type SubscriberRemover interface {
	RemoveSubscriber(ctx context.Context, endpoint string) error
}
