package domain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"deposit-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

// DepositStatus tracks an inbound transfer. A record that does not exist yet
// is implicitly unseen.
type DepositStatus string

const (
	DepositStatusUnseen  DepositStatus = ""
	DepositStatusPending DepositStatus = "pending"
	DepositStatusSuccess DepositStatus = "success"
)

// CanTransition reports whether moving from s to next is allowed.
// unseen -> pending -> success; success is terminal.
func (s DepositStatus) CanTransition(next DepositStatus) bool {
	switch s {
	case DepositStatusUnseen:
		return next == DepositStatusPending
	case DepositStatusPending:
		return next == DepositStatusSuccess
	}
	return false
}

type DepositKind string

const (
	DepositKindNative DepositKind = "native"
	DepositKindToken  DepositKind = "token"
)

// DepositRecord is keyed by TxID and is the idempotency key for crediting.
type DepositRecord struct {
	TxID        string
	Kind        DepositKind
	TxHash      string
	Contract    string
	ChainID     string
	FromAddress string
	ToAddress   string
	UserID      string
	WalletIndex uint32

	AssetSymbol string
	Decimals    int
	RawValue    *big.Int

	AmountAsset   decimal.Decimal
	UnitPriceUSD  decimal.Decimal
	FXRate        decimal.Decimal
	AmountUSD     decimal.Decimal
	AmountLocal   decimal.Decimal
	LocalCurrency string

	Status      DepositStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
}

// ApplyConversion copies a computed conversion onto the record.
func (d *DepositRecord) ApplyConversion(c *Conversion) {
	d.AmountAsset = c.AmountAsset
	d.UnitPriceUSD = c.UnitPriceUSD
	d.FXRate = c.FXRate
	d.AmountUSD = c.AmountUSD
	d.AmountLocal = c.AmountLocal
	d.LocalCurrency = c.Currency
}

// Confirm moves a pending record to success.
func (d *DepositRecord) Confirm(now time.Time) error {
	if !d.Status.CanTransition(DepositStatusSuccess) {
		return fmt.Errorf("deposit %s: %s -> %s: %w", d.TxID, d.Status, DepositStatusSuccess, xerrors.ErrIllegalTransition)
	}
	d.Status = DepositStatusSuccess
	d.ConfirmedAt = &now
	d.UpdatedAt = now
	return nil
}

// Clone returns a deep copy.
func (d *DepositRecord) Clone() *DepositRecord {
	if d == nil {
		return nil
	}
	cp := *d
	if d.RawValue != nil {
		cp.RawValue = new(big.Int).Set(d.RawValue)
	}
	if d.ConfirmedAt != nil {
		t := *d.ConfirmedAt
		cp.ConfirmedAt = &t
	}
	return &cp
}

// NativeTxID is the record key for a native transfer.
func NativeTxID(hash string) string {
	return strings.ToLower(hash)
}

// TokenTxID is the record key for a token transfer: hash:logIndex. One
// transaction can emit several transfers, so the log index is part of the key.
func TokenTxID(hash string, logIndex uint64) string {
	return strings.ToLower(hash) + ":" + strconv.FormatUint(logIndex, 10)
}
