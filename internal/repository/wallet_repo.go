// internal/repository/wallet_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
)

const bindingColumns = `user_id, asset_class, address, wallet_index, created_at`

func scanBinding(row pgx.Row) (*domain.WalletBinding, error) {
	b := &domain.WalletBinding{}
	var index int64
	if err := row.Scan(&b.UserID, &b.AssetClass, &b.Address, &index, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.WalletIndex = uint32(index)
	return b, nil
}

// ============================================================================
// WALLET BINDINGS
// ============================================================================

func (r pgQueries) GetBinding(ctx context.Context, userID, assetClass string) (*domain.WalletBinding, error) {
	b, err := scanBinding(r.q.QueryRow(ctx, `
		SELECT `+bindingColumns+`
		FROM wallet_bindings
		WHERE user_id = $1 AND asset_class = $2
	`, userID, assetClass))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet binding: %w", err)
	}
	return b, nil
}

// FindBindingsByAddress returns every binding for the address. Callers treat
// more than one result as a data error.
func (r pgQueries) FindBindingsByAddress(ctx context.Context, assetClass, address string) ([]*domain.WalletBinding, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+bindingColumns+`
		FROM wallet_bindings
		WHERE asset_class = $1 AND address = $2
	`, assetClass, strings.ToLower(address))
	if err != nil {
		return nil, fmt.Errorf("failed to query bindings by address: %w", err)
	}
	defer rows.Close()

	return collectBindings(rows)
}

func (r pgQueries) ListBindings(ctx context.Context, assetClass string, offset, limit int) ([]*domain.WalletBinding, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+bindingColumns+`
		FROM wallet_bindings
		WHERE asset_class = $1
		ORDER BY wallet_index
		LIMIT $2 OFFSET $3
	`, assetClass, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	return collectBindings(rows)
}

func collectBindings(rows pgx.Rows) ([]*domain.WalletBinding, error) {
	var out []*domain.WalletBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateBinding(ctx context.Context, b *domain.WalletBinding) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO wallet_bindings (user_id, asset_class, address, wallet_index, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, b.UserID, b.AssetClass, strings.ToLower(b.Address), int64(b.WalletIndex), b.CreatedAt)
	if err != nil {
		if xerrors.ParsePGErrorCode(err) == xerrors.PGUniqueViolation {
			return fmt.Errorf("%w: %v", xerrors.ErrConcurrentModification, err)
		}
		return fmt.Errorf("failed to create wallet binding: %w", err)
	}
	return nil
}

// ============================================================================
// INDEX COUNTERS
// ============================================================================

func (r pgQueries) GetCounter(ctx context.Context, assetClass string) (*domain.WalletIndexCounter, error) {
	c := &domain.WalletIndexCounter{AssetClass: assetClass}
	var next int64
	err := r.q.QueryRow(ctx, `
		SELECT next_index, updated_at FROM wallet_index_counters WHERE asset_class = $1
	`, assetClass).Scan(&next, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get index counter: %w", err)
	}
	c.NextIndex = uint32(next)
	return c, nil
}

// NextIndex increments the counter row in place. The row lock is held until
// the surrounding transaction ends, so concurrent allocators queue behind it.
func (t *pgTx) NextIndex(ctx context.Context, assetClass string) (uint32, error) {
	if _, err := t.q.Exec(ctx, `
		INSERT INTO wallet_index_counters (asset_class, next_index)
		VALUES ($1, 0)
		ON CONFLICT (asset_class) DO NOTHING
	`, assetClass); err != nil {
		return 0, fmt.Errorf("failed to initialise index counter: %w", err)
	}

	var allocated int64
	err := t.q.QueryRow(ctx, `
		UPDATE wallet_index_counters
		SET next_index = next_index + 1, updated_at = NOW()
		WHERE asset_class = $1
		RETURNING next_index - 1
	`, assetClass).Scan(&allocated)
	if err != nil {
		return 0, fmt.Errorf("failed to advance index counter: %w", err)
	}
	return uint32(allocated), nil
}
