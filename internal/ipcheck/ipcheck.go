package ipcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/util"
)

// Lookup statuses reported by the IP intelligence provider. Anything other
// than StatusOK means the signal is unavailable for this request.
const (
	StatusOK     = "ok"
	StatusDenied = "denied"
	StatusError  = "error"
)

// Details is the classification returned by the IP intelligence lookup.
type Details struct {
	Status      string `json:"status"`
	Type        string `json:"type"`
	CountryCode string `json:"isocode"`
	Provider    string `json:"provider"`
}

// Unavailable reports whether the lookup produced no usable signal.
// Callers treat an unavailable classification as "allow": IP intelligence
// is an auxiliary abuse signal, not a security boundary.
func (d *Details) Unavailable() bool {
	return d == nil || d.Status == StatusDenied || d.Status == StatusError
}

// Gate classifies request IPs as blocked, conditionally blocked by network
// type, or allowed.
type Gate struct {
	lookupURL   string
	apiKey      string
	httpClient  *http.Client
	denied      map[string]struct{}
	deniedTypes map[string]struct{}
}

func NewGate(cfg config.IPCheckConfig) *Gate {
	denied := make(map[string]struct{}, len(cfg.BlacklistedIPs))
	for _, ip := range cfg.BlacklistedIPs {
		denied[ip] = struct{}{}
	}
	deniedTypes := make(map[string]struct{}, len(cfg.BlacklistedIPTypes))
	for _, ipType := range cfg.BlacklistedIPTypes {
		deniedTypes[strings.ToLower(ipType)] = struct{}{}
	}

	return &Gate{
		lookupURL:   strings.TrimRight(cfg.LookupURL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		denied:      denied,
		deniedTypes: deniedTypes,
	}
}

// IsBlacklisted reports whether the IP is on the configured deny-list.
func (g *Gate) IsBlacklisted(ip string) bool {
	_, blocked := g.denied[ip]
	return blocked
}

// IsTypeBlacklisted reports whether the network type (VPN, hosting, ...)
// is disallowed. Unknown or empty types are allowed.
func (g *Gate) IsTypeBlacklisted(ipType string) bool {
	if ipType == "" {
		return false
	}
	_, blocked := g.deniedTypes[strings.ToLower(ipType)]
	return blocked
}

// Lookup fetches IP metadata from the intelligence provider. A transport
// or decode failure is returned as an error so the caller can fail open.
func (g *Gate) Lookup(ctx context.Context, ip string) (*Details, error) {
	url := fmt.Sprintf("%s/%s", g.lookupURL, ip)
	if g.apiKey != "" {
		url = fmt.Sprintf("%s?key=%s", url, g.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build IP lookup request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("IP lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("IP lookup returned status %d", resp.StatusCode)
	}

	var details Details
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("failed to decode IP lookup response: %w", err)
	}

	if details.Unavailable() {
		util.Warn("IP lookup returned no usable classification",
			zap.String("ip", ip),
			zap.String("status", details.Status))
	}

	return &details, nil
}
