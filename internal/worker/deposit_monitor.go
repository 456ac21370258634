// internal/worker/deposit_monitor.go
package worker

import (
	"context"
	"sync"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/internal/metrics"
	"deposit-service/pkg/utils"

	"go.uber.org/zap"
)

// BindingLister pages through wallet bindings.
type BindingLister interface {
	ListBindings(ctx context.Context, assetClass string, offset, limit int) ([]*domain.WalletBinding, error)
}

// ChainLister returns the configured chain providers.
type ChainLister interface {
	List() []domain.Chain
}

// SweepScheduler accepts sweep jobs without blocking.
type SweepScheduler interface {
	Enqueue(job domain.SweepJob) bool
}

type DepositMonitorConfig struct {
	AssetClass string
	Interval   time.Duration
	PageSize   int
	// Tokens lists the token assets to check per chain id.
	Tokens map[string][]*domain.Asset
	// Resweep queues a sweep for every funded address found.
	Resweep bool
}

// DepositMonitor periodically scans bound deposit addresses for funds that
// are still sitting on chain, such as sweeps that were skipped or failed. It
// never touches deposit records or balances.
type DepositMonitor struct {
	bindings BindingLister
	chains   ChainLister
	sweeper  SweepScheduler
	cfg      DepositMonitorConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
	stopChan chan bool
	stopOnce sync.Once
}

func NewDepositMonitor(
	bindings BindingLister,
	chains ChainLister,
	sweeper SweepScheduler,
	cfg DepositMonitorConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *DepositMonitor {
	if cfg.AssetClass == "" {
		cfg.AssetClass = domain.AssetClassEVM
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	return &DepositMonitor{
		bindings: bindings,
		chains:   chains,
		sweeper:  sweeper,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		stopChan: make(chan bool),
	}
}

// Start starts the deposit monitoring worker
func (dm *DepositMonitor) Start(ctx context.Context) {
	dm.logger.Info("Starting deposit monitor worker", zap.Duration("interval", dm.cfg.Interval))

	ticker := time.NewTicker(dm.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := dm.Audit(ctx); err != nil {
				dm.logger.Error("Funded address audit failed", zap.Error(err))
			}

		case <-dm.stopChan:
			dm.logger.Info("Stopping deposit monitor worker")
			return

		case <-ctx.Done():
			dm.logger.Info("Context cancelled, stopping deposit monitor")
			return
		}
	}
}

// FundedAddress is a bound address holding a non-zero balance.
type FundedAddress struct {
	ChainID string
	Binding *domain.WalletBinding
	Asset   *domain.Asset
	Amount  string
}

// Audit checks every binding on every chain once. Balance read errors are
// logged and skipped.
func (dm *DepositMonitor) Audit(ctx context.Context) ([]FundedAddress, error) {
	var funded []FundedAddress

	for _, chain := range dm.chains.List() {
		assets := append([]*domain.Asset{{
			Chain:    chain.Name(),
			Symbol:   chain.Symbol(),
			Decimals: 18,
			Type:     domain.AssetTypeNative,
		}}, dm.cfg.Tokens[chain.ChainID()]...)

		counts := make(map[string]int, len(assets))
		for offset := 0; ; offset += dm.cfg.PageSize {
			page, err := dm.bindings.ListBindings(ctx, dm.cfg.AssetClass, offset, dm.cfg.PageSize)
			if err != nil {
				return funded, err
			}

			for _, b := range page {
				for _, asset := range assets {
					if err := ctx.Err(); err != nil {
						return funded, err
					}
					bal, err := chain.GetBalance(ctx, b.Address, asset)
					if err != nil {
						dm.logger.Warn("balance check failed",
							zap.String("chain", chain.Name()),
							zap.String("address", b.Address),
							zap.String("asset", asset.Symbol),
							zap.Error(err))
						continue
					}
					if bal.Amount == nil || bal.Amount.Sign() == 0 {
						continue
					}

					counts[asset.Symbol]++
					funded = append(funded, FundedAddress{
						ChainID: chain.ChainID(),
						Binding: b,
						Asset:   asset,
						Amount:  bal.Amount.String(),
					})
					dm.logger.Info("Funded deposit address",
						zap.String("chain", chain.Name()),
						zap.String("address", b.Address),
						zap.String("user_id", b.UserID),
						zap.String("balance", utils.FormatBalance(bal.Amount, asset.Decimals, asset.Symbol)))

					if dm.cfg.Resweep && dm.sweeper != nil {
						dm.sweeper.Enqueue(domain.SweepJob{
							ChainID:     chain.ChainID(),
							Address:     b.Address,
							WalletIndex: b.WalletIndex,
							Asset:       asset,
							TriggeredBy: "audit",
							QueuedAt:    time.Now(),
						})
					}
				}
			}

			if len(page) < dm.cfg.PageSize {
				break
			}
		}

		for _, asset := range assets {
			dm.metrics.SetFundedAddresses(chain.Name(), asset.Symbol, counts[asset.Symbol])
		}
	}

	dm.logger.Info("Funded address audit complete", zap.Int("funded", len(funded)))
	return funded, nil
}

// Stop stops the deposit monitor
func (dm *DepositMonitor) Stop() {
	dm.stopOnce.Do(func() { close(dm.stopChan) })
}
