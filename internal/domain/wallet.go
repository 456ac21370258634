package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetClassEVM is the only asset class addresses are assigned for.
const AssetClassEVM = "EVM"

// User is the subset of the user document this service reads and credits.
type User struct {
	ID        string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalletBinding links a user to a derived deposit address. Bindings are
// immutable once written.
type WalletBinding struct {
	UserID      string    `json:"user_id"`
	AssetClass  string    `json:"asset_class"`
	Address     string    `json:"address"`
	WalletIndex uint32    `json:"wallet_index"`
	CreatedAt   time.Time `json:"created_at"`
}

// WalletIndexCounter holds the next derivation index to hand out for an
// asset class.
type WalletIndexCounter struct {
	AssetClass string
	NextIndex  uint32
	UpdatedAt  time.Time
}
