// internal/chains/networks.go
package chains

import (
	"fmt"
	"strconv"
	"strings"

	"deposit-service/internal/domain"
)

// networks lists the EVM networks the watch feed reports on.
var networks = map[string]domain.NetworkInfo{
	"0x1":      {ChainID: "0x1", Name: "ETHEREUM", Symbol: "ETH", PriceSymbol: "ETH", Decimals: 18},
	"0x38":     {ChainID: "0x38", Name: "BSC", Symbol: "BNB", PriceSymbol: "BNB", Decimals: 18},
	"0x61":     {ChainID: "0x61", Name: "BSC_TESTNET", Symbol: "BNB", PriceSymbol: "BNB", Decimals: 18},
	"0x89":     {ChainID: "0x89", Name: "POLYGON", Symbol: "MATIC", PriceSymbol: "MATIC", Decimals: 18},
	"0x45c":    {ChainID: "0x45c", Name: "CORE", Symbol: "CORE", PriceSymbol: "CORE", Decimals: 18},
	"0x2105":   {ChainID: "0x2105", Name: "BASE", Symbol: "BASE_ETH", PriceSymbol: "ETH", Decimals: 18},
	"0xa4b1":   {ChainID: "0xa4b1", Name: "ARBITRUM", Symbol: "ARB_ETH", PriceSymbol: "ETH", Decimals: 18},
	"0xa86a":   {ChainID: "0xa86a", Name: "AVALANCHE", Symbol: "AVAX", PriceSymbol: "AVAX", Decimals: 18},
	"0xe708":   {ChainID: "0xe708", Name: "LINEA", Symbol: "LINEA_ETH", PriceSymbol: "ETH", Decimals: 18},
	"0x13e31":  {ChainID: "0x13e31", Name: "BLAST", Symbol: "BLAST_ETH", PriceSymbol: "ETH", Decimals: 18},
	"0xaa36a7": {ChainID: "0xaa36a7", Name: "SEPOLIA", Symbol: "ETH", PriceSymbol: "ETH", Decimals: 18},
}

// LookupNetwork returns metadata for a chain id.
func LookupNetwork(chainID string) (domain.NetworkInfo, bool) {
	info, ok := networks[NormalizeChainID(chainID)]
	return info, ok
}

// NormalizeChainID renders a chain id as lower-case hex with a 0x prefix.
// Decimal input ("56") is converted; anything unparseable is returned
// lower-cased so lookups simply miss.
func NormalizeChainID(chainID string) string {
	s := strings.ToLower(strings.TrimSpace(chainID))
	if strings.HasPrefix(s, "0x") {
		if n, err := strconv.ParseUint(s[2:], 16, 64); err == nil {
			return fmt.Sprintf("0x%x", n)
		}
		return s
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return fmt.Sprintf("0x%x", n)
	}
	return s
}
