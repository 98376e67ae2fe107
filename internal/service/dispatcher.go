package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/notifykit/notifykit/internal/domain"
	"github.com/notifykit/notifykit/internal/provider"
	"github.com/notifykit/notifykit/internal/template"
	"go.uber.org/zap"
)

// Dispatcher normalizes raw job payloads into typed requests, resolves
// their content, and hands the result to the matching provider adapter.
type Dispatcher struct {
	resolver *template.Resolver
	email    provider.EmailSender
	sms      provider.SMSSender
	call     provider.CallSender
	push     provider.PushSender
	logger   *zap.Logger
}

func NewDispatcher(
	resolver *template.Resolver,
	email provider.EmailSender,
	sms provider.SMSSender,
	call provider.CallSender,
	push provider.PushSender,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if resolver == nil {
		return nil, fmt.Errorf("template resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		resolver: resolver,
		email:    email,
		sms:      sms,
		call:     call,
		push:     push,
		logger:   logger,
	}, nil
}

// CreateRequest builds a typed request from an untyped payload. Payloads
// are always re-validated even when the producer is internal; the returned
// error lists every violated constraint at once.
func (d *Dispatcher) CreateRequest(method domain.DeliveryMethod, raw map[string]any) (*domain.Request, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: payload is required", domain.ErrValidation)
	}

	req := &domain.Request{
		Method:   method,
		To:       stringField(raw, "to"),
		From:     stringField(raw, "from"),
		Subject:  stringField(raw, "subject"),
		Title:    stringField(raw, "title"),
		Body:     stringField(raw, "body"),
		Template: stringField(raw, "template"),
		TimeZone: stringField(raw, "timeZone"),
		Context:  raw["context"],
	}

	if sub, ok := raw["subscription"].(map[string]any); ok {
		req.Subscription = parseSubscription(sub)
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Dispatch resolves the request's content and sends it through the
// adapter for its method. Empty leaf fields of the compiled content are
// dropped from outbound payloads so strict receiving-side validators
// never see null values.
func (d *Dispatcher) Dispatch(ctx context.Context, req *domain.Request) (*provider.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.HasInline() && req.HasTemplate() {
		d.logger.Warn("request carries both inline content and a template; template wins",
			zap.String("method", req.Method.String()),
			zap.String("template", req.Template),
		)
	}

	content, err := d.resolver.Resolve(ctx, req.Method, template.Input{
		Template: req.Template,
		Subject:  req.Subject,
		Title:    req.Title,
		Body:     req.Body,
		Context:  mergeContext(req.TimeZone, req.Context),
	})
	if err != nil {
		return nil, err
	}

	switch req.Method {
	case domain.MethodEmail:
		if d.email == nil {
			return nil, domain.Unrecoverable(fmt.Errorf("no email adapter configured"))
		}
		return d.email.SendEmail(ctx, provider.EmailMessage{
			To:      req.To,
			From:    req.From,
			Subject: content.Subject,
			Body:    content.Body,
		})

	case domain.MethodSMS:
		if d.sms == nil {
			return nil, domain.Unrecoverable(fmt.Errorf("no sms adapter configured"))
		}
		return d.sms.SendSMS(ctx, provider.PhoneMessage{
			To:   req.To,
			From: req.From,
			Body: content.Body,
		})

	case domain.MethodCall:
		if d.call == nil {
			return nil, domain.Unrecoverable(fmt.Errorf("no call adapter configured"))
		}
		return d.call.PlaceCall(ctx, provider.PhoneMessage{
			To:   req.To,
			From: req.From,
			Body: content.Body,
		})

	case domain.MethodPush:
		if d.push == nil {
			return nil, domain.Unrecoverable(fmt.Errorf("no push adapter configured"))
		}
		return d.push.SendPush(ctx, provider.PushMessage{
			Subscription: *req.Subscription,
			Title:        content.Title,
			Body:         content.Body,
		})
	}

	return nil, domain.Unrecoverable(fmt.Errorf("no adapter for method %q", req.Method))
}

// mergeContext builds the substitution context as {timeZone, ...context}.
// A non-mapping context passes through unchanged so compilation reports it
// against the template that uses it.
func mergeContext(timeZone string, context any) any {
	mapping, ok := context.(map[string]any)
	if !ok {
		if context != nil {
			return context
		}
		if strings.TrimSpace(timeZone) == "" {
			return nil
		}
		return map[string]any{"timeZone": timeZone}
	}

	merged := make(map[string]any, len(mapping)+1)
	if strings.TrimSpace(timeZone) != "" {
		merged["timeZone"] = timeZone
	}
	for key, value := range mapping {
		merged[key] = value
	}
	return merged
}

func stringField(raw map[string]any, key string) string {
	value, ok := raw[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func parseSubscription(raw map[string]any) *domain.PushSubscription {
	sub := &domain.PushSubscription{
		Endpoint: stringField(raw, "endpoint"),
		Auth:     stringField(raw, "auth"),
		P256dh:   stringField(raw, "p256dh"),
	}

	// Browser subscriptions nest the crypto keys under "keys".
	if keys, ok := raw["keys"].(map[string]any); ok {
		if sub.Auth == "" {
			sub.Auth = stringField(keys, "auth")
		}
		if sub.P256dh == "" {
			sub.P256dh = stringField(keys, "p256dh")
		}
	}

	return sub
}
