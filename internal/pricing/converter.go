package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/pkg/utils"
	"deposit-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceSource quotes one unit of an asset in USD.
type PriceSource interface {
	UnitPriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// FXSource quotes how much local currency one USD buys.
type FXSource interface {
	RatePerUSD(ctx context.Context, currency string) (decimal.Decimal, error)
}

type Config struct {
	Currency        string
	FallbackFXRate  decimal.Decimal
	StableContracts []string
	PriceOverrides  map[string]decimal.Decimal
}

// Converter turns raw on-chain amounts into local currency:
// amountLocal = (raw / 10^decimals) * unitPriceUSD * fxRate.
type Converter struct {
	prices PriceSource
	fx     FXSource // nil: always use the fallback rate
	cache  *Cache
	logger *zap.Logger

	currency        string
	fallbackFX      decimal.Decimal
	stableContracts map[string]bool
	overrides       map[string]decimal.Decimal
	now             func() time.Time
}

func NewConverter(cfg Config, prices PriceSource, fx FXSource, cache *Cache, logger *zap.Logger) *Converter {
	c := &Converter{
		prices:          prices,
		fx:              fx,
		cache:           cache,
		logger:          logger,
		currency:        strings.ToUpper(cfg.Currency),
		fallbackFX:      cfg.FallbackFXRate,
		stableContracts: make(map[string]bool),
		overrides:       make(map[string]decimal.Decimal),
		now:             time.Now,
	}
	for _, a := range cfg.StableContracts {
		c.stableContracts[strings.ToLower(strings.TrimSpace(a))] = true
	}
	for sym, p := range cfg.PriceOverrides {
		c.overrides[strings.ToUpper(sym)] = p
	}
	return c
}

// IsStable reports whether the token contract is pegged 1:1 to USD. Symbols
// are caller-controlled and never decide the peg.
func (c *Converter) IsStable(contract string) bool {
	return contract != "" && c.stableContracts[strings.ToLower(contract)]
}

func (c *Converter) Convert(ctx context.Context, req domain.ConversionRequest) (*domain.Conversion, error) {
	if req.RawValue == nil || req.RawValue.Sign() < 0 {
		return nil, fmt.Errorf("%w: raw value must be non-negative", xerrors.ErrInvalidInput)
	}
	if req.Decimals < 0 || req.Decimals > 77 {
		return nil, fmt.Errorf("%w: decimals %d out of range", xerrors.ErrInvalidInput, req.Decimals)
	}

	stable := c.IsStable(req.Contract)
	price := decimal.NewFromInt(1)
	if !stable {
		p, err := c.UnitPriceUSD(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		price = p
	}

	rate := c.Rate(ctx)
	amount := utils.ToDecimal(req.RawValue, req.Decimals)
	usd := amount.Mul(price)

	return &domain.Conversion{
		AmountAsset:  amount,
		UnitPriceUSD: price,
		FXRate:       rate.PerUSD,
		AmountUSD:    usd,
		AmountLocal:  usd.Mul(rate.PerUSD),
		Currency:     rate.Currency,
		Stable:       stable,
		FXFallback:   rate.Fallback,
	}, nil
}

// UnitPriceUSD resolves overrides first, then the cache, then the source.
func (c *Converter) UnitPriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(symbol)
	if p, ok := c.overrides[symbol]; ok {
		return p, nil
	}
	if p, ok := c.cache.Get(ctx, PriceKey(symbol)); ok {
		return p, nil
	}
	if c.prices == nil {
		return decimal.Zero, fmt.Errorf("%w: no price source for %s", xerrors.ErrPriceUnavailable, symbol)
	}

	p, err := c.prices.UnitPriceUSD(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	c.cache.Set(ctx, PriceKey(symbol), p)
	return p, nil
}

// Rate returns the USD to local currency rate. FX lookups never fail the
// conversion: the configured fallback is used instead.
func (c *Converter) Rate(ctx context.Context) domain.RateSnapshot {
	snap := domain.RateSnapshot{Currency: c.currency, AsOf: c.now()}

	if v, ok := c.cache.Get(ctx, FXKey(c.currency)); ok {
		snap.PerUSD = v
		return snap
	}

	if c.fx != nil {
		v, err := c.fx.RatePerUSD(ctx, c.currency)
		if err == nil {
			c.cache.Set(ctx, FXKey(c.currency), v)
			snap.PerUSD = v
			return snap
		}
		c.logger.Warn("fx lookup failed, using fallback rate",
			zap.String("currency", c.currency),
			zap.String("fallback", c.fallbackFX.String()),
			zap.Error(err))
	}

	snap.PerUSD = c.fallbackFX
	snap.Fallback = true
	return snap
}
