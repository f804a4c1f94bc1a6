package sms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/util"
)

const smsalaProviderName = "smsala"

// SMSalaProvider is the fallback carrier. Its API is a plain GET and
// reports neither a message id nor delivery callbacks, so a successful
// request is the terminal status.
type SMSalaProvider struct {
	baseURL     string
	apiID       string
	apiPassword string
	senderID    string
	httpClient  *http.Client
}

func NewSMSalaProvider(cfg config.SMSalaConfig) *SMSalaProvider {
	return &SMSalaProvider{
		baseURL:     cfg.BaseURL,
		apiID:       cfg.APIID,
		apiPassword: cfg.APIPassword,
		senderID:    cfg.SenderID,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *SMSalaProvider) Name() string { return smsalaProviderName }

func (p *SMSalaProvider) Send(ctx context.Context, to, body string) (*SendResult, error) {
	query := url.Values{}
	query.Set("api_id", p.apiID)
	query.Set("api_password", p.apiPassword)
	query.Set("sms_type", "T")
	query.Set("encoding", "T")
	query.Set("sender_id", p.senderID)
	// The SMSala API does not accept non-numeric characters like '+'.
	query.Set("phonenumber", util.DigitsOnly(to))
	query.Set("textmessage", body)

	endpoint := fmt.Sprintf("%s?%s", p.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build smsala request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("smsala request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		util.Error("SMSala rejected message",
			zap.String("to", to),
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response", raw))
		return nil, fmt.Errorf("smsala returned status %d", resp.StatusCode)
	}

	util.Info("Sent text successfully",
		zap.String("to", to),
		zap.String("provider", smsalaProviderName))

	return &SendResult{Success: true}, nil
}
