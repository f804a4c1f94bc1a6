package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wallet-auth-service/internal/config"
)

// Info is the carrier metadata attached to a user on first successful
// login. It is analytics-grade data: absence never blocks anything.
type Info struct {
	CountryCode       string
	Name              string
	Type              string
	MobileCountryCode string
	MobileNetworkCode string
}

// Client resolves carrier metadata through Twilio's Lookup API.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

func NewClient(cfg config.TwilioConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.LookupURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type lookupResponse struct {
	CountryCode string `json:"country_code"`
	Carrier     struct {
		MobileCountryCode string `json:"mobile_country_code"`
		MobileNetworkCode string `json:"mobile_network_code"`
		Name              string `json:"name"`
		Type              string `json:"type"`
	} `json:"carrier"`
}

// Lookup fetches carrier metadata for the phone. Best-effort only;
// callers are expected to log and continue on error.
func (c *Client) Lookup(ctx context.Context, phone string) (*Info, error) {
	endpoint := fmt.Sprintf("%s/v1/PhoneNumbers/%s?Type=carrier", c.baseURL, url.PathEscape(phone))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build carrier lookup request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("carrier lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("carrier lookup returned status %d", resp.StatusCode)
	}

	var decoded lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode carrier lookup response: %w", err)
	}

	return &Info{
		CountryCode:       decoded.CountryCode,
		Name:              decoded.Carrier.Name,
		Type:              decoded.Carrier.Type,
		MobileCountryCode: decoded.Carrier.MobileCountryCode,
		MobileNetworkCode: decoded.Carrier.MobileNetworkCode,
	}, nil
}
