// internal/usecase/wallet_usecase.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/internal/events"
	"deposit-service/internal/metrics"
	"deposit-service/internal/repository"
	"deposit-service/internal/watch"
	"deposit-service/pkg/xerrors"

	"go.uber.org/zap"
)

type WalletUsecase struct {
	store      repository.Store
	allocator  *IndexAllocator
	deriver    Deriver
	watcher    watch.AddressWatcher
	publisher  events.Publisher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

func NewWalletUsecase(
	store repository.Store,
	allocator *IndexAllocator,
	deriver Deriver,
	watcher watch.AddressWatcher,
	publisher events.Publisher,
	m *metrics.Metrics,
	maxRetries int,
	logger *zap.Logger,
) *WalletUsecase {
	if watcher == nil {
		watcher = watch.NopWatcher{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &WalletUsecase{
		store:      store,
		allocator:  allocator,
		deriver:    deriver,
		watcher:    watcher,
		publisher:  publisher,
		metrics:    m,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// AssignAddress gives the user a deposit address for the asset class. The
// user check, index allocation, watch registration and binding write all
// happen in one transaction: either all take effect or none do.
func (uc *WalletUsecase) AssignAddress(ctx context.Context, userID, assetClass string) (*domain.WalletBinding, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", xerrors.ErrInvalidRequest)
	}
	if assetClass == "" {
		assetClass = domain.AssetClassEVM
	}
	if assetClass != domain.AssetClassEVM {
		return nil, fmt.Errorf("%w: unsupported asset class %q", xerrors.ErrInvalidRequest, assetClass)
	}

	uc.logger.Info("Assigning deposit address",
		zap.String("user_id", userID),
		zap.String("asset_class", assetClass))

	var binding *domain.WalletBinding
	onRetry := func(attempt int, err error) {
		uc.metrics.ObserveAssignRetry()
		uc.logger.Warn("address assignment conflicted, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	err := withRetry(ctx, uc.maxRetries, onRetry, func() error {
		binding = nil
		return uc.store.InTx(ctx, func(tx repository.Tx) error {
			b, err := uc.assignInTx(ctx, tx, userID, assetClass)
			if err != nil {
				return err
			}
			binding = b
			return nil
		})
	})
	if err != nil {
		uc.metrics.ObserveAssignment(xerrors.KindOf(err).String())
		if xerrors.KindOf(err) == xerrors.KindInternal || xerrors.KindOf(err) == xerrors.KindTransient {
			uc.logger.Error("address assignment failed",
				zap.String("user_id", userID),
				zap.Error(err))
		}
		return nil, err
	}

	uc.metrics.ObserveAssignment("assigned")
	uc.logger.Info("Deposit address assigned",
		zap.String("user_id", userID),
		zap.String("address", binding.Address),
		zap.Uint32("wallet_index", binding.WalletIndex))

	if err := uc.publisher.Publish(ctx, &events.Event{
		EventType: events.WalletAssigned,
		UserID:    userID,
		Address:   binding.Address,
		Timestamp: binding.CreatedAt,
	}); err != nil {
		uc.logger.Warn("failed to publish wallet event", zap.Error(err))
	}

	return binding, nil
}

func (uc *WalletUsecase) assignInTx(ctx context.Context, tx repository.Tx, userID, assetClass string) (*domain.WalletBinding, error) {
	// 1. User must exist; the lock serializes assignments for the same user
	if _, err := tx.LockUser(ctx, userID); err != nil {
		return nil, err
	}

	// 2. One binding per user and class
	_, err := tx.GetBinding(ctx, userID, assetClass)
	if err == nil {
		return nil, xerrors.ErrAlreadyBound
	}
	if !errors.Is(err, xerrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing binding: %w", err)
	}

	// 3. Next index
	index, err := uc.allocator.AllocateIn(ctx, tx, assetClass)
	if err != nil {
		return nil, err
	}

	// 4. Address at m/44'/60'/0'/0/index
	cred, err := uc.deriver.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address: %w", err)
	}

	// 5. Start watching before the binding becomes visible
	if err := uc.watcher.Watch(ctx, cred.Address); err != nil {
		return nil, err
	}

	// 6. Persist
	b := &domain.WalletBinding{
		UserID:      userID,
		AssetClass:  assetClass,
		Address:     strings.ToLower(cred.Address),
		WalletIndex: index,
		CreatedAt:   uc.now().UTC(),
	}
	if err := tx.CreateBinding(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// GetBinding returns the user's binding for the asset class.
func (uc *WalletUsecase) GetBinding(ctx context.Context, userID, assetClass string) (*domain.WalletBinding, error) {
	if assetClass == "" {
		assetClass = domain.AssetClassEVM
	}
	b, err := uc.store.GetBinding(ctx, userID, assetClass)
	if err != nil {
		return nil, err
	}
	return b, nil
}
