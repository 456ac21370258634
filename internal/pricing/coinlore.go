package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"deposit-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultCoinloreURL = "https://api.coinlore.net/api/tickers/"

// CoinloreSource reads USD prices from the Coinlore tickers endpoint.
type CoinloreSource struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewCoinloreSource(url string, timeout time.Duration, logger *zap.Logger) *CoinloreSource {
	if url == "" {
		url = DefaultCoinloreURL
	}
	return &CoinloreSource{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type coinloreTicker struct {
	Symbol   string `json:"symbol"`
	PriceUSD string `json:"price_usd"`
}

type coinloreResponse struct {
	Data []coinloreTicker `json:"data"`
}

func (s *CoinloreSource) UnitPriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", xerrors.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: failed to read response: %v", xerrors.ErrPriceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: price API returned %d", xerrors.ErrPriceUnavailable, resp.StatusCode)
	}

	var parsed coinloreResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("%w: failed to decode response: %v", xerrors.ErrPriceUnavailable, err)
	}

	for _, t := range parsed.Data {
		if !strings.EqualFold(t.Symbol, symbol) {
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(t.PriceUSD))
		if err != nil || !price.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: bad quote %q for %s", xerrors.ErrPriceUnavailable, t.PriceUSD, symbol)
		}
		return price, nil
	}

	s.logger.Warn("symbol not listed by price API", zap.String("symbol", symbol))
	return decimal.Zero, fmt.Errorf("%w: no quote for %s", xerrors.ErrPriceUnavailable, symbol)
}
