package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"wallet-auth-service/internal/config"
)

func TestRegistrySelectsByName(t *testing.T) {
	twilio := NewTwilioProvider(config.TwilioConfig{})
	smsala := NewSMSalaProvider(config.SMSalaConfig{})
	registry := NewRegistry(twilio, smsala)

	p, ok := registry.Get("twilio")
	require.True(t, ok)
	require.Equal(t, "twilio", p.Name())

	p, ok = registry.Get("SMSala")
	require.True(t, ok)
	require.Equal(t, "smsala", p.Name())

	_, ok = registry.Get("nexmo")
	require.False(t, ok)
}

func TestTwilioSendReturnsMessageID(t *testing.T) {
	var gotPath, gotTo, gotCallback string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotTo = r.PostFormValue("To")
		gotCallback = r.PostFormValue("StatusCallback")

		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "key", user)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer server.Close()

	provider := NewTwilioProvider(config.TwilioConfig{
		AccountSID:     "AC42",
		APIKey:         "key",
		APISecret:      "secret",
		FromNumber:     "+15005550006",
		MessagingURL:   server.URL,
		StatusCallback: "http://localhost:3000/twilioMessageStatus",
	})

	result, err := provider.Send(context.Background(), "+15551234567", "482913 is your verification code")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "SM123", result.MessageID)
	require.Equal(t, "queued", result.Status)

	require.Equal(t, "/2010-04-01/Accounts/AC42/Messages.json", gotPath)
	require.Equal(t, "+15551234567", gotTo)
	require.Equal(t, "http://localhost:3000/twilioMessageStatus", gotCallback)
}

func TestTwilioSendFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"authentication failed"}`))
	}))
	defer server.Close()

	provider := NewTwilioProvider(config.TwilioConfig{MessagingURL: server.URL})

	_, err := provider.Send(context.Background(), "+15551234567", "body")
	require.Error(t, err)
}

func TestSMSalaStripsNonDigits(t *testing.T) {
	var gotPhone string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPhone = r.URL.Query().Get("phonenumber")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider := NewSMSalaProvider(config.SMSalaConfig{
		BaseURL: server.URL,
		APIID:   "id",
	})

	result, err := provider.Send(context.Background(), "+1 (555) 123-4567", "body")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Empty(t, result.MessageID)
	require.Equal(t, "15551234567", gotPhone)
}
