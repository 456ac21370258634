// internal/usecase/sweep_usecase.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/internal/events"
	"deposit-service/internal/metrics"
	"deposit-service/pkg/utils"
	"deposit-service/pkg/xerrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	DefaultFeeMultiplier = decimal.NewFromFloat(1.5)
	DefaultBufferPercent = decimal.NewFromInt(1)
)

type SweepConfig struct {
	CustodyAddress string
	FeeMultiplier  decimal.Decimal
	BufferPercent  decimal.Decimal
}

type SweepUsecase struct {
	chains    ChainResolver
	deriver   Deriver
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       SweepConfig
	now       func() time.Time
}

func NewSweepUsecase(
	chains ChainResolver,
	deriver Deriver,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg SweepConfig,
	logger *zap.Logger,
) *SweepUsecase {
	if cfg.FeeMultiplier.Sign() <= 0 {
		cfg.FeeMultiplier = DefaultFeeMultiplier
	}
	if cfg.BufferPercent.IsNegative() {
		cfg.BufferPercent = DefaultBufferPercent
	}
	cfg.CustodyAddress = strings.ToLower(cfg.CustodyAddress)
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &SweepUsecase{
		chains:    chains,
		deriver:   deriver,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// PlanNativeSweep works out how much of balance can leave the address:
//
//	working      = ceil(base * multiplier)
//	reserve      = working * units
//	buffer       = ceil(balance * bufferPct / 100)
//	transferable = balance - reserve - buffer
//
// Transferable may be zero or negative; callers decide what that means.
func PlanNativeSweep(balance, baseFeeRate *big.Int, units uint64, multiplier, bufferPct decimal.Decimal) *domain.SweepPlan {
	working := decimal.NewFromBigInt(baseFeeRate, 0).Mul(multiplier).Ceil().BigInt()
	reserve := new(big.Int).Mul(working, new(big.Int).SetUint64(units))
	buffer := decimal.NewFromBigInt(balance, 0).Mul(bufferPct).Div(decimal.NewFromInt(100)).Ceil().BigInt()

	transferable := new(big.Int).Sub(balance, reserve)
	transferable.Sub(transferable, buffer)

	return &domain.SweepPlan{
		Balance:        new(big.Int).Set(balance),
		BaseFeeRate:    new(big.Int).Set(baseFeeRate),
		WorkingFeeRate: working,
		Units:          units,
		Reserve:        reserve,
		Buffer:         buffer,
		Transferable:   transferable,
	}
}

// ============================================================================
// SWEEP (deposit address → custody)
// ============================================================================

// Sweep moves the funds of one deposit address to the custody address. A
// failed or skipped sweep leaves the funds in place for the next trigger; the
// ledger is never touched here.
func (uc *SweepUsecase) Sweep(ctx context.Context, job domain.SweepJob) (*domain.SweepResult, error) {
	start := uc.now()
	kind := string(domain.DepositKindNative)
	if job.Asset.IsToken() {
		kind = string(domain.DepositKindToken)
	}

	result := &domain.SweepResult{
		ID:          uuid.New().String(),
		ChainID:     job.ChainID,
		Address:     strings.ToLower(job.Address),
		Destination: uc.cfg.CustodyAddress,
		Asset:       job.Asset,
	}

	chainName := job.ChainID
	err := uc.sweep(ctx, job, result, &chainName)

	switch {
	case err == nil:
		result.Status = domain.SweepStatusSubmitted
		result.SubmittedAt = uc.now()
		uc.logger.Info("Sweep submitted",
			zap.String("sweep_id", result.ID),
			zap.String("chain", chainName),
			zap.String("address", result.Address),
			zap.String("amount", utils.FormatBalance(result.Amount, job.Asset.Decimals, job.Asset.Symbol)),
			zap.String("tx_hash", result.TxHash))
		uc.publish(ctx, events.SweepSubmitted, job, result)
	case errors.Is(err, xerrors.ErrInsufficientFunds), errors.Is(err, xerrors.ErrNothingToSweep):
		result.Status = domain.SweepStatusSkipped
		result.Reason = err.Error()
		uc.logger.Info("Sweep skipped",
			zap.String("sweep_id", result.ID),
			zap.String("chain", chainName),
			zap.String("address", result.Address),
			zap.String("reason", result.Reason))
		uc.publish(ctx, events.SweepSkipped, job, result)
	default:
		result.Status = domain.SweepStatusFailed
		result.Reason = err.Error()
		uc.logger.Error("Sweep failed",
			zap.String("sweep_id", result.ID),
			zap.String("chain", chainName),
			zap.String("address", result.Address),
			zap.String("triggered_by", job.TriggeredBy),
			zap.Error(err))
		uc.publish(ctx, events.SweepFailed, job, result)
	}

	uc.metrics.ObserveSweep(chainName, kind, string(result.Status), uc.now().Sub(start))
	return result, err
}

func (uc *SweepUsecase) sweep(ctx context.Context, job domain.SweepJob, result *domain.SweepResult, chainName *string) error {
	if uc.cfg.CustodyAddress == "" {
		return fmt.Errorf("%w: custody address not configured", xerrors.ErrInvalidInput)
	}
	if job.Asset == nil {
		return fmt.Errorf("%w: sweep job without asset", xerrors.ErrInvalidInput)
	}

	chain, err := uc.chains.Get(job.ChainID)
	if err != nil {
		return err
	}
	*chainName = chain.Name()

	// 1. Re-derive the signing key; it is never stored
	cred, err := uc.deriver.Derive(job.WalletIndex)
	if err != nil {
		return fmt.Errorf("failed to derive credential: %w", err)
	}
	if !strings.EqualFold(cred.Address, job.Address) {
		return fmt.Errorf("%w: index %d derives %s, bound address is %s",
			xerrors.ErrInvalidMasterSecret, job.WalletIndex, cred.Address, job.Address)
	}

	native := &domain.Asset{
		Chain:    chain.Name(),
		Symbol:   chain.Symbol(),
		Decimals: 18,
		Type:     domain.AssetTypeNative,
	}
	if !job.Asset.IsToken() {
		native = job.Asset
	}

	// 2. Native balance pays the fee in both cases
	nativeBal, err := chain.GetBalance(ctx, cred.Address, native)
	if err != nil {
		return fmt.Errorf("failed to get native balance: %w", err)
	}

	// 3. Fee rate; no fee, no sweep
	base, err := chain.SuggestFeeRate(ctx)
	if err != nil {
		return err
	}

	req := &domain.TransferRequest{
		From:       cred.Address,
		To:         uc.cfg.CustodyAddress,
		Asset:      job.Asset,
		Credential: cred,
	}

	if job.Asset.IsToken() {
		tokenBal, err := chain.GetBalance(ctx, cred.Address, job.Asset)
		if err != nil {
			return fmt.Errorf("failed to get token balance: %w", err)
		}
		if tokenBal.Amount == nil || tokenBal.Amount.Sign() == 0 {
			return fmt.Errorf("%w: no %s on %s", xerrors.ErrNothingToSweep, job.Asset.Symbol, cred.Address)
		}
		req.Amount = tokenBal.Amount
	} else {
		req.Amount = nativeBal.Amount
	}

	units, err := chain.EstimateTransferUnits(ctx, req)
	if err != nil {
		return err
	}

	plan := PlanNativeSweep(nativeBal.Amount, base, units, uc.cfg.FeeMultiplier, uc.cfg.BufferPercent)
	result.Plan = plan

	if job.Asset.IsToken() {
		// native must cover the fee and its own buffer; the whole token
		// balance moves
		if plan.Transferable.Sign() < 0 {
			return fmt.Errorf("%w: native balance %s does not cover reserve %s + buffer %s",
				xerrors.ErrInsufficientFunds, plan.Balance, plan.Reserve, plan.Buffer)
		}
	} else {
		if plan.Transferable.Sign() <= 0 {
			return fmt.Errorf("%w: balance %s does not exceed reserve %s + buffer %s",
				xerrors.ErrInsufficientFunds, plan.Balance, plan.Reserve, plan.Buffer)
		}
		req.Amount = plan.Transferable
	}

	req.FeeRate = plan.WorkingFeeRate
	req.GasLimit = units
	result.Amount = req.Amount

	// 4. Submit once; a failure leaves the funds for the next trigger
	txResult, err := chain.Send(ctx, req)
	if err != nil {
		return err
	}
	result.TxHash = txResult.TxHash
	return nil
}

func (uc *SweepUsecase) publish(ctx context.Context, eventType string, job domain.SweepJob, result *domain.SweepResult) {
	evt := &events.Event{
		EventType: eventType,
		TxID:      job.TriggeredBy,
		ChainID:   job.ChainID,
		Address:   result.Address,
		TxHash:    result.TxHash,
		Reason:    result.Reason,
	}
	if job.Asset != nil {
		evt.Asset = job.Asset.Symbol
	}
	if result.Amount != nil {
		evt.Amount = result.Amount.String()
	}
	if err := uc.publisher.Publish(ctx, evt); err != nil {
		uc.logger.Warn("failed to publish sweep event",
			zap.String("event", eventType),
			zap.String("sweep_id", result.ID),
			zap.Error(err))
	}
}
