// internal/domain/chain.go
package domain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
)

// Chain is the per-network provider used for balance reads, fee estimation
// and fund movement.
type Chain interface {
	// Name returns the network name (ETH, BSC, BASE)
	Name() string

	// ChainID returns the lower-case hex chain id ("0x38")
	ChainID() string

	// Symbol returns the native coin symbol
	Symbol() string

	GetBalance(ctx context.Context, address string, asset *Asset) (*Balance, error)

	// SuggestFeeRate returns the network's current fee per unit of work, in wei
	SuggestFeeRate(ctx context.Context) (*big.Int, error)

	// EstimateTransferUnits returns the work units the transfer will consume
	EstimateTransferUnits(ctx context.Context, req *TransferRequest) (uint64, error)

	Send(ctx context.Context, req *TransferRequest) (*TransactionResult, error)

	ValidateAddress(address string) error
}

// Asset represents a crypto asset
type Asset struct {
	Chain        string
	Symbol       string
	ContractAddr *string // ERC-20 only
	Decimals     int
	Type         AssetType
}

type AssetType string

const (
	AssetTypeNative AssetType = "native"
	AssetTypeToken  AssetType = "token"
)

func (a *Asset) IsToken() bool {
	return a != nil && a.Type == AssetTypeToken && a.ContractAddr != nil
}

// Contract returns the lower-case token contract, or "" for native assets.
func (a *Asset) Contract() string {
	if a == nil || a.ContractAddr == nil {
		return ""
	}
	return strings.ToLower(*a.ContractAddr)
}

// Balance represents an on-chain balance in base units
type Balance struct {
	Address  string
	Asset    *Asset
	Amount   *big.Int
	Decimals int
}

// Credential is a derived signing key. It is produced on demand and never
// persisted.
type Credential struct {
	Index      uint32
	Address    string
	PrivateKey *ecdsa.PrivateKey
}

// String keeps key material out of logs and error messages.
func (c *Credential) String() string {
	if c == nil {
		return "<nil>"
	}
	return "credential(" + c.Address + ")"
}

// TransferRequest describes a single outbound transfer.
type TransferRequest struct {
	From       string
	To         string
	Asset      *Asset
	Amount     *big.Int
	Credential *Credential

	// FeeRate and GasLimit are fixed by the caller; providers do not re-price.
	FeeRate  *big.Int
	GasLimit uint64
}

// TransactionResult is returned after broadcast
type TransactionResult struct {
	TxHash   string
	Status   TxStatus
	Fee      *big.Int
	GasLimit uint64
	Nonce    uint64
}

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// NetworkInfo is static metadata for an EVM network the service accepts
// notifications from.
type NetworkInfo struct {
	ChainID     string
	Name        string
	Symbol      string // symbol recorded on deposits
	PriceSymbol string // symbol used for USD pricing
	Decimals    int
}
