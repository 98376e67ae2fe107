package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
)

const (
	defaultPushTTL      = 60
	maxPushResponseBody = 4 << 10
)

// VAPIDConfig holds the server identification keys for Web Push.
type VAPIDConfig struct {
	Subscriber string
	PublicKey  string
	PrivateKey string
}

// WebPushSender delivers Web Push notifications. A subscription the push
// service reports as gone is handed to the remover and the attempt counts
// as handled: the endpoint can never deliver again, so surfacing an error
// would only feed a retry storm.
type WebPushSender struct {
	vapid   VAPIDConfig
	ttl     int
	client  webpush.HTTPClient
	remover SubscriberRemover
	logger  *zap.Logger
}

func NewWebPushSender(vapid VAPIDConfig, remover SubscriberRemover, logger *zap.Logger) (*WebPushSender, error) {
	if strings.TrimSpace(vapid.PublicKey) == "" || strings.TrimSpace(vapid.PrivateKey) == "" {
		return nil, fmt.Errorf("vapid key pair is required")
	}
	if remover == nil {
		return nil, fmt.Errorf("subscriber remover is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebPushSender{
		vapid:   vapid,
		ttl:     defaultPushTTL,
		client:  &http.Client{Timeout: 10 * time.Second},
		remover: remover,
		logger:  logger,
	}, nil
}

// SetHTTPClient replaces the underlying push transport.
func (s *WebPushSender) SetHTTPClient(client webpush.HTTPClient) {
	if s == nil || client == nil {
		return
	}
	s.client = client
}

func (s *WebPushSender) SendPush(ctx context.Context, msg PushMessage) (*Result, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("push sender is not initialized")
	}

	payload, err := encodePushPayload(msg)
	if err != nil {
		return nil, err
	}

	sub := &webpush.Subscription{
		Endpoint: msg.Subscription.Endpoint,
		Keys: webpush.Keys{
			Auth:   msg.Subscription.Auth,
			P256dh: msg.Subscription.P256dh,
		},
	}

	response, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.vapid.Subscriber,
		VAPIDPublicKey:  s.vapid.PublicKey,
		VAPIDPrivateKey: s.vapid.PrivateKey,
		TTL:             s.ttl,
	})
	if err != nil {
		return nil, &SendError{
			Message:   "push request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	defer response.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(response.Body, maxPushResponseBody))
	statusCode := response.StatusCode
	responseBody := strings.TrimSpace(string(body))

	switch {
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		return &Result{StatusCode: statusCode, Body: responseBody}, nil

	case statusCode == http.StatusGone || statusCode == http.StatusNotFound:
		// The subscription is dead. Remove it and treat the attempt as
		// handled rather than retryable.
		if err := s.remover.RemoveSubscriber(ctx, msg.Subscription.Endpoint); err != nil {
			s.logger.Warn("failed to remove gone push subscriber",
				zap.String("endpoint", msg.Subscription.Endpoint),
				zap.Error(err),
			)
		}
		return &Result{
			StatusCode: statusCode,
			Body:       "subscription gone, subscriber removed",
		}, nil

	default:
		message := fmt.Sprintf("push service returned status %d", statusCode)
		if responseBody != "" {
			message = fmt.Sprintf("%s: %s", message, responseBody)
		}
		return nil, &SendError{
			StatusCode: statusCode,
			Message:    message,
			Transient:  transientHTTPStatus(statusCode),
		}
	}
}

// encodePushPayload marshals only the populated fields so browser-side
// payload validation never encounters null values.
func encodePushPayload(msg PushMessage) ([]byte, error) {
	fields := make(map[string]string, 2)
	if title := strings.TrimSpace(msg.Title); title != "" {
		fields["title"] = title
	}
	if body := strings.TrimSpace(msg.Body); body != "" {
		fields["body"] = body
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push payload: %w", err)
	}
	return payload, nil
}
