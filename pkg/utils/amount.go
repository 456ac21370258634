package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ToDecimal scales a base-unit amount down by 10^decimals.
func ToDecimal(raw *big.Int, decimals int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// FormatBalance formats a base-unit balance for logs ("9.898 BNB").
func FormatBalance(balance *big.Int, decimals int, asset string) string {
	if balance == nil || balance.Sign() == 0 {
		return fmt.Sprintf("0 %s", asset)
	}
	return fmt.Sprintf("%s %s", ToDecimal(balance, decimals).String(), asset)
}

// ParseRawValue parses a base-unit integer as delivered by the watch feed.
// Decimal and 0x-prefixed hex are accepted; negatives are rejected.
func ParseRawValue(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid amount format")
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount")
	}
	return v, nil
}
