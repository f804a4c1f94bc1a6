package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/util"
)

const twilioProviderName = "twilio"

// TwilioProvider sends texts through Twilio's Messages API. Dispatch is
// asynchronous on Twilio's side: the response carries a message sid and a
// queued/sending status, and the final delivery status arrives later on
// the status-callback webhook.
type TwilioProvider struct {
	accountSID     string
	apiKey         string
	apiSecret      string
	fromNumber     string
	baseURL        string
	statusCallback string
	httpClient     *http.Client
}

func NewTwilioProvider(cfg config.TwilioConfig) *TwilioProvider {
	return &TwilioProvider{
		accountSID:     cfg.AccountSID,
		apiKey:         cfg.APIKey,
		apiSecret:      cfg.APISecret,
		fromNumber:     cfg.FromNumber,
		baseURL:        strings.TrimRight(cfg.MessagingURL, "/"),
		statusCallback: cfg.StatusCallback,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *TwilioProvider) Name() string { return twilioProviderName }

type twilioMessageResponse struct {
	Sid     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (p *TwilioProvider) Send(ctx context.Context, to, body string) (*SendResult, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL, p.accountSID)

	form := url.Values{}
	form.Set("From", p.fromNumber)
	form.Set("To", to)
	form.Set("Body", body)
	if p.statusCallback != "" {
		form.Set("StatusCallback", p.statusCallback)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build twilio request: %w", err)
	}
	req.SetBasicAuth(p.apiKey, p.apiSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		util.Error("Twilio rejected message",
			zap.String("to", to),
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response", raw))
		return nil, fmt.Errorf("twilio returned status %d", resp.StatusCode)
	}

	var message twilioMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&message); err != nil {
		return nil, fmt.Errorf("failed to decode twilio response: %w", err)
	}

	util.Info("Sent text successfully",
		zap.String("to", to),
		zap.String("provider", twilioProviderName),
		zap.String("message_sid", message.Sid),
		zap.String("message_status", message.Status))

	return &SendResult{
		Success:   true,
		MessageID: message.Sid,
		Status:    message.Status,
	}, nil
}
