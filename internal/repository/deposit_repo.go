// internal/repository/deposit_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const depositColumns = `
	tx_id, kind, tx_hash, contract, chain_id, from_address, to_address,
	user_id, wallet_index, asset_symbol, decimals, raw_value::text,
	amount_asset::text, unit_price_usd::text, fx_rate::text,
	amount_usd::text, amount_local::text, local_currency,
	status, created_at, updated_at, confirmed_at`

func scanDeposit(row pgx.Row) (*domain.DepositRecord, error) {
	d := &domain.DepositRecord{}
	var kind, status string
	var index int64
	var raw, asset, price, fx, usd, localAmt string
	err := row.Scan(
		&d.TxID,
		&kind,
		&d.TxHash,
		&d.Contract,
		&d.ChainID,
		&d.FromAddress,
		&d.ToAddress,
		&d.UserID,
		&index,
		&d.AssetSymbol,
		&d.Decimals,
		&raw,
		&asset,
		&price,
		&fx,
		&usd,
		&localAmt,
		&d.LocalCurrency,
		&status,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Kind = domain.DepositKind(kind)
	d.Status = domain.DepositStatus(status)
	d.WalletIndex = uint32(index)

	var ok bool
	if d.RawValue, ok = new(big.Int).SetString(raw, 10); !ok {
		return nil, fmt.Errorf("invalid stored raw value %q", raw)
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&d.AmountAsset, asset},
		{&d.UnitPriceUSD, price},
		{&d.FXRate, fx},
		{&d.AmountUSD, usd},
		{&d.AmountLocal, localAmt},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("invalid stored amount %q: %w", f.src, err)
		}
		*f.dst = v
	}
	return d, nil
}

func (r pgQueries) GetDeposit(ctx context.Context, txID string) (*domain.DepositRecord, error) {
	d, err := scanDeposit(r.q.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE tx_id = $1`, txID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return d, nil
}

func (t *pgTx) LockDeposit(ctx context.Context, txID string) (*domain.DepositRecord, error) {
	d, err := scanDeposit(t.q.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE tx_id = $1 FOR UPDATE`, txID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock deposit: %w", err)
	}
	return d, nil
}

// CreateDeposit inserts a new record. An existing tx id yields
// ErrDepositExists rather than a conflict.
func (t *pgTx) CreateDeposit(ctx context.Context, d *domain.DepositRecord) error {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO deposits (
			tx_id, kind, tx_hash, contract, chain_id, from_address, to_address,
			user_id, wallet_index, asset_symbol, decimals, raw_value,
			amount_asset, unit_price_usd, fx_rate, amount_usd, amount_local,
			local_currency, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12::numeric,
			$13::numeric, $14::numeric, $15::numeric, $16::numeric, $17::numeric,
			$18, $19, $20, $20
		)
		ON CONFLICT (tx_id) DO NOTHING
	`,
		d.TxID, string(d.Kind), d.TxHash, d.Contract, d.ChainID, d.FromAddress, d.ToAddress,
		d.UserID, int64(d.WalletIndex), d.AssetSymbol, d.Decimals, rawString(d.RawValue),
		d.AmountAsset.String(), d.UnitPriceUSD.String(), d.FXRate.String(), d.AmountUSD.String(), d.AmountLocal.String(),
		d.LocalCurrency, string(d.Status), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create deposit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrDepositExists
	}
	return nil
}

func (t *pgTx) UpdateDeposit(ctx context.Context, d *domain.DepositRecord) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE deposits SET
			status = $2,
			amount_asset = $3::numeric,
			unit_price_usd = $4::numeric,
			fx_rate = $5::numeric,
			amount_usd = $6::numeric,
			amount_local = $7::numeric,
			local_currency = $8,
			confirmed_at = $9,
			updated_at = NOW()
		WHERE tx_id = $1
	`,
		d.TxID, string(d.Status),
		d.AmountAsset.String(), d.UnitPriceUSD.String(), d.FXRate.String(), d.AmountUSD.String(), d.AmountLocal.String(),
		d.LocalCurrency, d.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update deposit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func rawString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
