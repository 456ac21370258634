package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"deposit-service/pkg/xerrors"

	"go.uber.org/zap"
)

const DefaultMoralisURL = "https://api.moralis-streams.com"

// AddressWatcher registers an address with the external deposit feed.
type AddressWatcher interface {
	Watch(ctx context.Context, address string) error
}

// MoralisClient adds addresses to an existing Moralis stream.
type MoralisClient struct {
	baseURL    string
	apiKey     string
	streamID   string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewMoralisClient(baseURL, apiKey, streamID string, timeout time.Duration, logger *zap.Logger) *MoralisClient {
	if baseURL == "" {
		baseURL = DefaultMoralisURL
	}
	return &MoralisClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		streamID:   streamID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type addAddressRequest struct {
	Address []string `json:"address"`
}

// Watch adds the address to the stream. Any failure is reported as
// ErrWatchRegistration so the caller can roll back.
func (c *MoralisClient) Watch(ctx context.Context, address string) error {
	body, err := json.Marshal(addAddressRequest{Address: []string{address}})
	if err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrWatchRegistration, err)
	}

	url := fmt.Sprintf("%s/streams/evm/%s/address", c.baseURL, c.streamID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrWatchRegistration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrWatchRegistration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("stream rejected address",
			zap.String("address", address),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(msg)))
		return fmt.Errorf("%w: stream API returned %d", xerrors.ErrWatchRegistration, resp.StatusCode)
	}

	c.logger.Info("address added to stream",
		zap.String("address", address),
		zap.String("stream_id", c.streamID))
	return nil
}

// NopWatcher accepts every address. Used when no stream is configured.
type NopWatcher struct{}

func (NopWatcher) Watch(context.Context, string) error { return nil }
