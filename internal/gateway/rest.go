package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RESTConfig holds REST provider connection settings.
type RESTConfig struct {
	// BaseURL is the provider API root, e.g. "https://api.twilio.com".
	BaseURL string

	// AccountSID and AuthToken authenticate API requests.
	AccountSID string
	AuthToken  string

	// FromNumber is the caller ID presented on outbound calls (E.164).
	FromNumber string

	// CallbackBaseURL is this service's public root. The provider posts
	// status events to CallbackBaseURL + "/api/v1/provider/events".
	CallbackBaseURL string

	// Timeout bounds a single placement request. Defaults to 10s.
	Timeout time.Duration
}

// RESTGateway places calls through a Twilio-compatible REST API.
// Status updates arrive out of band on the provider webhook.
type RESTGateway struct {
	cfg    RESTConfig
	client *http.Client
}

// NewRESTGateway creates a REST provider gateway.
func NewRESTGateway(cfg RESTConfig) *RESTGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RESTGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// callResource is the provider's representation of a placed call.
type callResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// apiError is the provider's error body on 4xx/5xx responses.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PlaceCall asks the provider to dial number and returns the provider
// call SID.
func (g *RESTGateway) PlaceCall(ctx context.Context, number string) (string, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json",
		strings.TrimRight(g.cfg.BaseURL, "/"), g.cfg.AccountSID)

	form := url.Values{}
	form.Set("From", g.cfg.FromNumber)
	form.Set("To", number)
	form.Set("Url", g.cfg.CallbackBaseURL+"/api/v1/provider/answer")
	form.Set("StatusCallback", g.cfg.CallbackBaseURL+"/api/v1/provider/events")
	form.Set("StatusCallbackEvent", "initiated ringing answered completed")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", unavailable(number, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(g.cfg.AccountSID, g.cfg.AuthToken)

	slog.Debug("[Gateway] Placing call via REST provider", "to", number)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", unavailable(number, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", unavailable(number, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var res callResource
		if err := json.Unmarshal(body, &res); err != nil {
			return "", unavailable(number, fmt.Errorf("decode response: %w", err))
		}
		if res.SID == "" {
			return "", unavailable(number, fmt.Errorf("provider returned no call SID"))
		}
		slog.Info("[Gateway] Call accepted by provider", "to", number, "provider_call_id", res.SID, "status", res.Status)
		return res.SID, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		slog.Warn("[Gateway] Provider rejected call", "to", number, "code", apiErr.Code, "message", apiErr.Message)
		return "", rejected(number, apiErr.Code, apiErr.Message)

	default:
		return "", unavailable(number, fmt.Errorf("provider returned HTTP %d", resp.StatusCode))
	}
}
