package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTelephonyTimeout = 10 * time.Second

type telephonyRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message,omitempty"`
	Say     string `json:"say,omitempty"`
}

type telephonyResponse struct {
	ID string `json:"id"`
}

// TelephonyClient talks to an HTTP telephony gateway for both SMS and
// voice calls. It satisfies SMSSender and CallSender.
type TelephonyClient struct {
	client      *resty.Client
	baseURL     string
	defaultFrom string
}

func NewTelephonyClient(baseURL, apiKey, defaultFrom string) (*TelephonyClient, error) {
	client := resty.New()
	client.SetTimeout(defaultTelephonyTimeout)
	client.SetRetryCount(0)
	if strings.TrimSpace(apiKey) != "" {
		client.SetHeader("Authorization", "Bearer "+strings.TrimSpace(apiKey))
	}

	return NewTelephonyClientWithClient(baseURL, defaultFrom, client)
}

func NewTelephonyClientWithClient(baseURL, defaultFrom string, client *resty.Client) (*TelephonyClient, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("telephony base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid telephony base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTelephonyTimeout)
	}
	client.SetRetryCount(0)

	return &TelephonyClient{
		client:      client,
		baseURL:     strings.TrimRight(trimmed, "/"),
		defaultFrom: strings.TrimSpace(defaultFrom),
	}, nil
}

func (c *TelephonyClient) SendSMS(ctx context.Context, msg PhoneMessage) (*Result, error) {
	return c.post(ctx, "/messages", telephonyRequest{
		To:      msg.To,
		From:    c.sender(msg.From),
		Message: msg.Body,
	})
}

func (c *TelephonyClient) PlaceCall(ctx context.Context, msg PhoneMessage) (*Result, error) {
	return c.post(ctx, "/calls", telephonyRequest{
		To:   msg.To,
		From: c.sender(msg.From),
		Say:  msg.Body,
	})
}

func (c *TelephonyClient) sender(override string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}
	return c.defaultFrom
}

func (c *TelephonyClient) post(ctx context.Context, path string, body telephonyRequest) (*Result, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("telephony client is not initialized")
	}
	if strings.TrimSpace(body.To) == "" {
		return nil, &SendError{Message: "destination number is required"}
	}

	var parsed telephonyResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&parsed).
		Post(c.baseURL + path)
	if err != nil {
		return nil, &SendError{
			Message:   "telephony request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		messageID := parsed.ID
		if messageID == "" {
			messageID = strings.TrimSpace(response.Header().Get("X-Message-Id"))
		}
		return &Result{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  messageID,
		}, nil
	}

	message := fmt.Sprintf("telephony gateway returned status %d", statusCode)
	if responseBody != "" {
		message = fmt.Sprintf("%s: %s", message, responseBody)
	}
	return nil, &SendError{
		StatusCode: statusCode,
		Message:    message,
		Transient:  transientHTTPStatus(statusCode),
	}
}
