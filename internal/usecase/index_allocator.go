package usecase

import (
	"context"
	"fmt"

	"deposit-service/internal/repository"

	"go.uber.org/zap"
)

// maxWalletIndex is the last non-hardened BIP-32 child index.
const maxWalletIndex = 1<<31 - 1

// IndexAllocator hands out derivation indices from the per-class counter in
// the shared store. No two committed callers ever see the same index.
type IndexAllocator struct {
	logger *zap.Logger
}

func NewIndexAllocator(logger *zap.Logger) *IndexAllocator {
	return &IndexAllocator{logger: logger}
}

// AllocateIn reserves the next index inside the caller's transaction, so the
// counter advance commits or rolls back with the caller's other writes.
func (a *IndexAllocator) AllocateIn(ctx context.Context, tx repository.Tx, assetClass string) (uint32, error) {
	index, err := tx.NextIndex(ctx, assetClass)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate wallet index: %w", err)
	}
	if index > maxWalletIndex {
		a.logger.Error("wallet index space exhausted", zap.String("asset_class", assetClass))
		return 0, fmt.Errorf("wallet index space exhausted for %s", assetClass)
	}
	a.logger.Debug("wallet index reserved",
		zap.String("asset_class", assetClass),
		zap.Uint32("index", index))
	return index, nil
}
