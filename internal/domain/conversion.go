package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ConversionRequest asks for the local-currency value of a raw on-chain
// amount.
type ConversionRequest struct {
	ChainID  string
	Symbol   string
	Contract string // empty for native
	RawValue *big.Int
	Decimals int
}

// Conversion is amountLocal = (raw / 10^decimals) * unitPriceUSD * fxRate.
type Conversion struct {
	AmountAsset  decimal.Decimal `json:"amount_asset"`
	UnitPriceUSD decimal.Decimal `json:"unit_price_usd"`
	FXRate       decimal.Decimal `json:"fx_rate"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	AmountLocal  decimal.Decimal `json:"amount_local"`
	Currency     string          `json:"currency"`
	Stable       bool            `json:"stable"`
	FXFallback   bool            `json:"fx_fallback"`
}

// RateSnapshot is a USD to local currency rate as of a point in time.
type RateSnapshot struct {
	Currency string
	PerUSD   decimal.Decimal
	Fallback bool
	AsOf     time.Time
}
