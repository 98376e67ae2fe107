package domain

import (
	"fmt"
	"strings"
)

// DeliveryMethod is the outbound channel a notification travels on. It
// doubles as the queue routing key for queue-routed methods.
type DeliveryMethod string

const (
	MethodEmail DeliveryMethod = "email"
	MethodSMS   DeliveryMethod = "sms"
	MethodCall  DeliveryMethod = "call"
	MethodPush  DeliveryMethod = "push"
)

func (m DeliveryMethod) String() string { return string(m) }

func (m DeliveryMethod) IsValid() bool {
	switch m {
	case MethodEmail, MethodSMS, MethodCall, MethodPush:
		return true
	}
	return false
}

func ParseDeliveryMethod(s string) (DeliveryMethod, error) {
	m := DeliveryMethod(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery method %q", ErrValidation, s)
	}
	return m, nil
}

// QueueRouted reports whether jobs for this method arrive via the work
// queue. Push dispatch is invoked directly by its producer.
func (m DeliveryMethod) QueueRouted() bool {
	switch m {
	case MethodEmail, MethodSMS, MethodCall:
		return true
	}
	return false
}

// JobState is the queue lifecycle state persisted on a notification log.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateDelayed   JobState = "delayed"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

func (s JobState) String() string { return string(s) }

func (s JobState) IsValid() bool {
	switch s {
	case StateWaiting, StateDelayed, StateActive, StateCompleted, StateFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further attempts follow this state. Only
// terminal transitions produce attempt-history rows.
func (s JobState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}
