package usecase

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"deposit-service/internal/domain"
	"deposit-service/internal/events"
	"deposit-service/internal/hdwallet"
	"deposit-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newTestDeriver(t *testing.T) *hdwallet.Deriver {
	t.Helper()
	d, err := hdwallet.NewDeriver(testMnemonic)
	require.NoError(t, err)
	return d
}

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad wei literal " + s)
	}
	return v
}

type fakeWatcher struct {
	mu      sync.Mutex
	err     error
	watched []string
}

func (w *fakeWatcher) Watch(_ context.Context, address string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.watched = append(w.watched, address)
	return nil
}

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []domain.SweepJob
}

func (s *recordingScheduler) Enqueue(job domain.SweepJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return true
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

// fixedConverter prices every asset at price USD and 1650 local per USD.
type fixedConverter struct {
	mu    sync.Mutex
	price decimal.Decimal
}

func (c *fixedConverter) Convert(_ context.Context, req domain.ConversionRequest) (*domain.Conversion, error) {
	c.mu.Lock()
	price := c.price
	c.mu.Unlock()

	amount := decimal.NewFromBigInt(req.RawValue, -int32(req.Decimals))
	fx := decimal.NewFromInt(1650)
	usd := amount.Mul(price)
	return &domain.Conversion{
		AmountAsset:  amount,
		UnitPriceUSD: price,
		FXRate:       fx,
		AmountUSD:    usd,
		AmountLocal:  usd.Mul(fx),
		Currency:     "NGN",
	}, nil
}

func (c *fixedConverter) setPrice(p int64) {
	c.mu.Lock()
	c.price = decimal.NewFromInt(p)
	c.mu.Unlock()
}

// fakeChain is an in-memory BSC provider. Balances are keyed by lower-case
// contract, "" for the native coin.
type fakeChain struct {
	mu       sync.Mutex
	balances map[string]*big.Int
	fee      *big.Int
	feeErr   error
	units    uint64
	sendErr  error
	sent     []*domain.TransferRequest
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balances: make(map[string]*big.Int),
		fee:      big.NewInt(1_000_000_000),
		units:    21000,
	}
}

func (c *fakeChain) Name() string    { return "BSC" }
func (c *fakeChain) ChainID() string { return "0x38" }
func (c *fakeChain) Symbol() string  { return "BNB" }

func (c *fakeChain) GetBalance(_ context.Context, address string, asset *domain.Asset) (*domain.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	amount, ok := c.balances[asset.Contract()]
	if !ok {
		amount = big.NewInt(0)
	}
	return &domain.Balance{Address: address, Asset: asset, Amount: new(big.Int).Set(amount), Decimals: asset.Decimals}, nil
}

func (c *fakeChain) SuggestFeeRate(context.Context) (*big.Int, error) {
	if c.feeErr != nil {
		return nil, c.feeErr
	}
	return new(big.Int).Set(c.fee), nil
}

func (c *fakeChain) EstimateTransferUnits(context.Context, *domain.TransferRequest) (uint64, error) {
	return c.units, nil
}

func (c *fakeChain) Send(_ context.Context, req *domain.TransferRequest) (*domain.TransactionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	c.sent = append(c.sent, req)
	return &domain.TransactionResult{TxHash: "0xfeed", Status: domain.TxStatusPending}, nil
}

func (c *fakeChain) ValidateAddress(address string) error { return nil }

func (c *fakeChain) setBalance(contract string, v *big.Int) {
	c.mu.Lock()
	c.balances[strings.ToLower(contract)] = v
	c.mu.Unlock()
}

func (c *fakeChain) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// unavailableConverter fails every lookup and counts the attempts.
type unavailableConverter struct {
	mu    sync.Mutex
	calls int
}

func (c *unavailableConverter) Convert(context.Context, domain.ConversionRequest) (*domain.Conversion, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return nil, xerrors.ErrPriceUnavailable
}
