package domain

import (
	"fmt"
	"strings"
)

// PushSubscription identifies a Web Push endpoint plus its crypto keys, as
// produced by the browser's PushManager subscription.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Auth     string `json:"auth"`
	P256dh   string `json:"p256dh"`
}

// Request is a normalized, method-tagged notification request. Exactly one
// delivery method is set; method-specific fields are validated together so
// a caller sees every violation in a single error.
//
// Content comes either inline (Subject/Title/Body) or from a stored
// template (Template + Context). At least one of the two must be present.
type Request struct {
	Method DeliveryMethod

	// Destination and optional sender override.
	To           string
	From         string
	Subscription *PushSubscription

	// Inline content.
	Subject string
	Title   string
	Body    string

	// Stored-template reference. Context is kept opaque here; its shape is
	// checked at compilation time so a non-mapping context is reported
	// against the template that actually uses it.
	Template string
	Context  any

	TimeZone string
}

// HasInline reports whether the request carries inline content.
func (r *Request) HasInline() bool {
	return strings.TrimSpace(r.Body) != ""
}

// HasTemplate reports whether the request references a stored template.
func (r *Request) HasTemplate() bool {
	return strings.TrimSpace(r.Template) != ""
}

// Validate checks structural constraints and returns a single ErrValidation
// listing every violated field constraint, joined with "; ".
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request is required", ErrValidation)
	}

	var violations []string

	if !r.Method.IsValid() {
		violations = append(violations, fmt.Sprintf("invalid delivery method %q", r.Method))
	}

	switch r.Method {
	case MethodEmail:
		if strings.TrimSpace(r.To) == "" {
			violations = append(violations, "to address is required")
		} else if !strings.Contains(r.To, "@") {
			violations = append(violations, fmt.Sprintf("to address %q is not an email address", r.To))
		}
	case MethodSMS, MethodCall:
		if strings.TrimSpace(r.To) == "" {
			violations = append(violations, "to number is required")
		}
	case MethodPush:
		if r.Subscription == nil {
			violations = append(violations, "push subscription is required")
		} else {
			if strings.TrimSpace(r.Subscription.Endpoint) == "" {
				violations = append(violations, "subscription endpoint is required")
			}
			if strings.TrimSpace(r.Subscription.Auth) == "" {
				violations = append(violations, "subscription auth key is required")
			}
			if strings.TrimSpace(r.Subscription.P256dh) == "" {
				violations = append(violations, "subscription p256dh key is required")
			}
		}
	}

	if !r.HasInline() && !r.HasTemplate() {
		violations = append(violations, "either body or template is required")
	}

	if len(violations) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(violations, "; "))
	}
	return nil
}
