package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPFXSource reads USD rates from an endpoint returning
// {"rates": {"NGN": 1650.2, ...}}.
type HTTPFXSource struct {
	url        string
	httpClient *http.Client
}

func NewHTTPFXSource(url string, timeout time.Duration) *HTTPFXSource {
	return &HTTPFXSource{url: url, httpClient: &http.Client{Timeout: timeout}}
}

type fxResponse struct {
	Rates map[string]json.Number `json:"rates"`
}

func (s *HTTPFXSource) RatePerUSD(ctx context.Context, currency string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build fx request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fx request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read fx response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fx API returned %d", resp.StatusCode)
	}

	var parsed fxResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode fx response: %w", err)
	}

	raw, ok := parsed.Rates[strings.ToUpper(currency)]
	if !ok {
		return decimal.Zero, fmt.Errorf("fx API has no rate for %s", currency)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid fx rate %q for %s", raw, currency)
	}
	return rate, nil
}
