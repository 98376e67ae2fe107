package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

func TestTelephonyClientSendSMS(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody telephonyRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotPath = r.URL.Path

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer server.Close()

	client, err := NewTelephonyClient(server.URL, "secret-key", "+905550000000")
	if err != nil {
		t.Fatalf("NewTelephonyClient() error = %v", err)
	}

	result, err := client.SendSMS(context.Background(), PhoneMessage{
		To:   "+905551112233",
		Body: "your code is 123456",
	})
	if err != nil {
		t.Fatalf("SendSMS() error = %v", err)
	}

	if result.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want %d", result.StatusCode, http.StatusAccepted)
	}
	if result.MessageID != "msg-1" {
		t.Fatalf("MessageID = %q, want msg-1", result.MessageID)
	}

	if gotPath != "/messages" {
		t.Fatalf("path = %q, want /messages", gotPath)
	}
	if gotBody.To != "+905551112233" {
		t.Fatalf("request.to = %q", gotBody.To)
	}
	if gotBody.From != "+905550000000" {
		t.Fatalf("request.from = %q, want the default sender", gotBody.From)
	}
	if gotBody.Message != "your code is 123456" {
		t.Fatalf("request.message = %q", gotBody.Message)
	}
	if gotBody.Say != "" {
		t.Fatalf("request.say = %q, want empty for sms", gotBody.Say)
	}
}

func TestTelephonyClientPlaceCall(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody telephonyRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("X-Message-Id", "call-7")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewTelephonyClient(server.URL, "", "")
	if err != nil {
		t.Fatalf("NewTelephonyClient() error = %v", err)
	}

	result, err := client.PlaceCall(context.Background(), PhoneMessage{
		To:   "+905551112233",
		From: "+905559998877",
		Body: "your appointment is tomorrow",
	})
	if err != nil {
		t.Fatalf("PlaceCall() error = %v", err)
	}

	if result.MessageID != "call-7" {
		t.Fatalf("MessageID = %q, want the header fallback", result.MessageID)
	}
	if gotPath != "/calls" {
		t.Fatalf("path = %q, want /calls", gotPath)
	}
	if gotBody.From != "+905559998877" {
		t.Fatalf("request.from = %q, want the per-message override", gotBody.From)
	}
	if gotBody.Say != "your appointment is tomorrow" {
		t.Fatalf("request.say = %q", gotBody.Say)
	}
}

func TestTelephonyClientStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("gateway failed"))
			}))
			defer server.Close()

			client, err := NewTelephonyClient(server.URL, "", "")
			if err != nil {
				t.Fatalf("NewTelephonyClient() error = %v", err)
			}

			_, err = client.SendSMS(context.Background(), PhoneMessage{To: "+905551112233", Body: "hello"})
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var sendErr *SendError
			if !errors.As(err, &sendErr) {
				t.Fatalf("expected SendError, got %T", err)
			}
			if sendErr.StatusCode != tc.statusCode {
				t.Fatalf("SendError.StatusCode = %d, want %d", sendErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestTelephonyClientTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	restyClient := resty.New()
	restyClient.SetTimeout(30 * time.Millisecond)

	client, err := NewTelephonyClientWithClient(server.URL, "", restyClient)
	if err != nil {
		t.Fatalf("NewTelephonyClientWithClient() error = %v", err)
	}

	_, err = client.SendSMS(context.Background(), PhoneMessage{To: "+905551112233", Body: "hello"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestTelephonyClientRequiresDestination(t *testing.T) {
	t.Parallel()

	client, err := NewTelephonyClient("http://gateway.local", "", "")
	if err != nil {
		t.Fatalf("NewTelephonyClient() error = %v", err)
	}

	if _, err := client.SendSMS(context.Background(), PhoneMessage{Body: "hello"}); err == nil {
		t.Fatal("expected error for missing destination")
	}
}

func TestNewTelephonyClientRejectsBadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewTelephonyClient("", "", ""); err == nil {
		t.Fatal("expected error for empty base url")
	}
	if _, err := NewTelephonyClient("not a url", "", ""); err == nil {
		t.Fatal("expected error for malformed base url")
	}
}
