// internal/usecase/deposit_usecase.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"deposit-service/internal/chains"
	"deposit-service/internal/domain"
	"deposit-service/internal/events"
	"deposit-service/internal/metrics"
	"deposit-service/internal/repository"
	"deposit-service/pkg/utils"
	"deposit-service/pkg/xerrors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RatePolicy picks when a deposit's local value is fixed.
type RatePolicy string

const (
	RateAtPending      RatePolicy = "pending"
	RateAtConfirmation RatePolicy = "confirmation"
)

type DepositConfig struct {
	AssetClass string
	RatePolicy RatePolicy
	MaxRetries int

	// Tokens lists the accepted token contracts per chain id. Transfers from
	// any other contract are ignored.
	Tokens map[string][]*domain.Asset
}

// errUnlistedToken marks a transfer from a contract we do not accept.
var errUnlistedToken = errors.New("token contract not accepted")

type DepositUsecase struct {
	store     repository.Store
	converter Converter
	sweeper   SweepScheduler
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       DepositConfig
	tokens    map[string]map[string]*domain.Asset
	now       func() time.Time
}

func NewDepositUsecase(
	store repository.Store,
	converter Converter,
	sweeper SweepScheduler,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg DepositConfig,
	logger *zap.Logger,
) *DepositUsecase {
	if cfg.AssetClass == "" {
		cfg.AssetClass = domain.AssetClassEVM
	}
	if cfg.RatePolicy == "" {
		cfg.RatePolicy = RateAtPending
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &DepositUsecase{
		store:     store,
		converter: converter,
		sweeper:   sweeper,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		tokens:    indexTokens(cfg.Tokens),
		now:       time.Now,
	}
}

// indexTokens keys accepted assets by chain id and lower-case contract.
func indexTokens(tokens map[string][]*domain.Asset) map[string]map[string]*domain.Asset {
	out := make(map[string]map[string]*domain.Asset, len(tokens))
	for chainID, assets := range tokens {
		byContract := make(map[string]*domain.Asset, len(assets))
		for _, a := range assets {
			if a.IsToken() {
				byContract[a.Contract()] = a
			}
		}
		out[strings.ToLower(chainID)] = byContract
	}
	return out
}

// depositEntry is one transfer from a notification, normalised across native
// and token transfers.
type depositEntry struct {
	txID        string
	kind        domain.DepositKind
	hash        string
	contract    string
	from        string
	to          string
	symbol      string
	priceSymbol string
	raw         *big.Int
	decimals    int
}

// ============================================================================
// NOTIFICATION PROCESSING
// ============================================================================

// Process applies a watch-feed notification. Entries are handled in order and
// independently: one bad entry does not stop the rest. Redelivering the same
// notification is safe.
func (uc *DepositUsecase) Process(ctx context.Context, n *domain.DepositNotification) (*domain.ProcessResult, error) {
	result := &domain.ProcessResult{}
	if n.IsEmpty() {
		return result, nil
	}
	result.Confirmed = n.Confirmed

	network, ok := chains.LookupNetwork(n.ChainID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", xerrors.ErrUnsupportedChain, n.ChainID)
	}
	result.ChainID = network.ChainID

	for _, tx := range n.Txs {
		entry, err := nativeEntry(network, tx)
		result.Entries = append(result.Entries, uc.handle(ctx, network, n.Confirmed, domain.DepositKindNative, entry, err))
	}
	for _, tr := range n.ERC20Transfers {
		entry, err := tokenEntry(tr, uc.tokens[network.ChainID])
		result.Entries = append(result.Entries, uc.handle(ctx, network, n.Confirmed, domain.DepositKindToken, entry, err))
	}

	uc.logger.Info("Deposit notification processed",
		zap.String("chain_id", result.ChainID),
		zap.Bool("confirmed", n.Confirmed),
		zap.Int("entries", len(result.Entries)),
		zap.Int("pending_created", result.Count(domain.OutcomePendingCreated)),
		zap.Int("credited", result.Count(domain.OutcomeCredited)),
		zap.Int("failed", result.Count(domain.OutcomeFailed)))

	return result, nil
}

func (uc *DepositUsecase) handle(
	ctx context.Context,
	network domain.NetworkInfo,
	confirmed bool,
	kind domain.DepositKind,
	e *depositEntry,
	parseErr error,
) (out domain.EntryOutcome) {
	out = domain.EntryOutcome{Kind: kind}
	defer func() {
		uc.metrics.ObserveDepositEntry(string(kind), string(out.Status))
	}()

	if errors.Is(parseErr, errUnlistedToken) {
		uc.logger.Debug("token contract not accepted, ignoring", zap.Error(parseErr))
		out.Status = domain.OutcomeIgnored
		return out
	}
	if parseErr != nil {
		uc.logger.Warn("skipping malformed notification entry",
			zap.String("kind", string(kind)),
			zap.Error(parseErr))
		return outcome(out, domain.OutcomeInvalid, parseErr)
	}
	out.TxID = e.txID

	binding, err := uc.resolveBinding(ctx, e.to)
	if err != nil {
		uc.logger.Error("failed to resolve deposit address",
			zap.String("tx_id", e.txID),
			zap.String("to", e.to),
			zap.Error(err))
		return outcome(out, domain.OutcomeFailed, err)
	}
	if binding == nil {
		uc.logger.Debug("no binding for destination, ignoring",
			zap.String("tx_id", e.txID),
			zap.String("to", e.to))
		out.Status = domain.OutcomeIgnored
		return out
	}

	if confirmed {
		return uc.confirm(ctx, network, e, binding, out)
	}
	return uc.recordPending(ctx, network, e, binding, out)
}

// resolveBinding maps a destination address to its owner. nil means the
// address is not ours.
func (uc *DepositUsecase) resolveBinding(ctx context.Context, address string) (*domain.WalletBinding, error) {
	found, err := uc.store.FindBindingsByAddress(ctx, uc.cfg.AssetClass, address)
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	}
	return nil, fmt.Errorf("%w: %s has %d bindings", xerrors.ErrDuplicateBinding, address, len(found))
}

// recordPending creates the pending record for an unconfirmed entry. An
// existing record of any status is left untouched.
func (uc *DepositUsecase) recordPending(
	ctx context.Context,
	network domain.NetworkInfo,
	e *depositEntry,
	binding *domain.WalletBinding,
	out domain.EntryOutcome,
) domain.EntryOutcome {
	if _, err := uc.store.GetDeposit(ctx, e.txID); err == nil {
		out.Status = domain.OutcomePendingExists
		return out
	} else if !errors.Is(err, xerrors.ErrNotFound) {
		return outcome(out, domain.OutcomeFailed, err)
	}

	conv, err := uc.convert(ctx, network, e)
	if err != nil {
		uc.logger.Warn("failed to value deposit",
			zap.String("tx_id", e.txID),
			zap.Error(err))
		return outcome(out, domain.OutcomeFailed, err)
	}

	now := uc.now().UTC()
	rec := &domain.DepositRecord{
		TxID:        e.txID,
		Kind:        e.kind,
		TxHash:      e.hash,
		Contract:    e.contract,
		ChainID:     network.ChainID,
		FromAddress: e.from,
		ToAddress:   e.to,
		UserID:      binding.UserID,
		WalletIndex: binding.WalletIndex,
		AssetSymbol: e.symbol,
		Decimals:    e.decimals,
		RawValue:    e.raw,
		Status:      domain.DepositStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	rec.ApplyConversion(conv)

	err = withRetry(ctx, uc.cfg.MaxRetries, nil, func() error {
		return uc.store.InTx(ctx, func(tx repository.Tx) error {
			return tx.CreateDeposit(ctx, rec)
		})
	})
	if errors.Is(err, xerrors.ErrDepositExists) {
		out.Status = domain.OutcomePendingExists
		return out
	}
	if err != nil {
		return outcome(out, domain.OutcomeFailed, err)
	}

	uc.logger.Info("Pending deposit recorded",
		zap.String("tx_id", rec.TxID),
		zap.String("user_id", rec.UserID),
		zap.String("amount", utils.FormatBalance(rec.RawValue, rec.Decimals, rec.AssetSymbol)),
		zap.String("amount_local", rec.AmountLocal.String()),
		zap.String("currency", rec.LocalCurrency))

	uc.publish(ctx, events.DepositPending, rec)

	out.Status = domain.OutcomePendingCreated
	return out
}

// confirm moves a pending record to success and credits the owner, exactly
// once per record.
func (uc *DepositUsecase) confirm(
	ctx context.Context,
	network domain.NetworkInfo,
	e *depositEntry,
	binding *domain.WalletBinding,
	out domain.EntryOutcome,
) domain.EntryOutcome {
	var conv *domain.Conversion
	if uc.cfg.RatePolicy == RateAtConfirmation {
		// Settle missing and already credited records before pricing.
		existing, err := uc.store.GetDeposit(ctx, e.txID)
		switch {
		case errors.Is(err, xerrors.ErrNotFound):
			uc.logger.Warn("confirmation without pending record",
				zap.String("tx_id", e.txID),
				zap.String("to", e.to))
			return outcome(out, domain.OutcomePendingMissing, xerrors.ErrPendingRecordMissing)
		case err != nil:
			return outcome(out, domain.OutcomeFailed, err)
		case existing.Status == domain.DepositStatusSuccess:
			out.Status = domain.OutcomeAlreadyCredited
			return out
		}

		c, err := uc.convert(ctx, network, e)
		if err != nil {
			return outcome(out, domain.OutcomeFailed, err)
		}
		conv = c
	}

	var (
		rec        *domain.DepositRecord
		newBalance decimal.Decimal
		already    bool
	)
	err := withRetry(ctx, uc.cfg.MaxRetries, nil, func() error {
		rec, already = nil, false
		return uc.store.InTx(ctx, func(tx repository.Tx) error {
			r, err := tx.LockDeposit(ctx, e.txID)
			if errors.Is(err, xerrors.ErrNotFound) {
				return xerrors.ErrPendingRecordMissing
			}
			if err != nil {
				return err
			}
			if r.Status == domain.DepositStatusSuccess {
				rec, already = r, true
				return nil
			}

			if conv != nil {
				r.ApplyConversion(conv)
			}
			if err := r.Confirm(uc.now().UTC()); err != nil {
				return err
			}
			if err := tx.UpdateDeposit(ctx, r); err != nil {
				return err
			}
			bal, err := tx.CreditBalance(ctx, r.UserID, r.AmountLocal)
			if err != nil {
				return err
			}
			rec, newBalance = r, bal
			return nil
		})
	})

	switch {
	case errors.Is(err, xerrors.ErrPendingRecordMissing):
		uc.logger.Warn("confirmation without pending record",
			zap.String("tx_id", e.txID),
			zap.String("to", e.to))
		return outcome(out, domain.OutcomePendingMissing, err)
	case err != nil:
		uc.logger.Error("failed to credit deposit",
			zap.String("tx_id", e.txID),
			zap.Error(err))
		return outcome(out, domain.OutcomeFailed, err)
	case already:
		out.Status = domain.OutcomeAlreadyCredited
		return out
	}

	uc.logger.Info("Deposit credited",
		zap.String("tx_id", rec.TxID),
		zap.String("user_id", rec.UserID),
		zap.String("amount_local", rec.AmountLocal.String()),
		zap.String("currency", rec.LocalCurrency),
		zap.String("balance", newBalance.String()))

	credited, _ := rec.AmountLocal.Float64()
	uc.metrics.ObserveCredit(network.Name, rec.AssetSymbol, credited)
	uc.publish(ctx, events.DepositCredited, rec)
	uc.scheduleSweep(network, rec, binding)

	out.Status = domain.OutcomeCredited
	return out
}

func (uc *DepositUsecase) convert(ctx context.Context, network domain.NetworkInfo, e *depositEntry) (*domain.Conversion, error) {
	return uc.converter.Convert(ctx, domain.ConversionRequest{
		ChainID:  network.ChainID,
		Symbol:   e.priceSymbol,
		Contract: e.contract,
		RawValue: e.raw,
		Decimals: e.decimals,
	})
}

// scheduleSweep hands the funded address to the sweeper. It never blocks
// the credit path.
func (uc *DepositUsecase) scheduleSweep(network domain.NetworkInfo, rec *domain.DepositRecord, binding *domain.WalletBinding) {
	if uc.sweeper == nil {
		return
	}

	asset := nativeAsset(network)
	if rec.Kind == domain.DepositKindToken {
		contract := rec.Contract
		asset = &domain.Asset{
			Chain:        network.Name,
			Symbol:       rec.AssetSymbol,
			ContractAddr: &contract,
			Decimals:     rec.Decimals,
			Type:         domain.AssetTypeToken,
		}
	}

	queued := uc.sweeper.Enqueue(domain.SweepJob{
		ChainID:     network.ChainID,
		Address:     binding.Address,
		WalletIndex: binding.WalletIndex,
		Asset:       asset,
		TriggeredBy: rec.TxID,
		QueuedAt:    uc.now(),
	})
	if !queued {
		uc.logger.Warn("sweep not queued",
			zap.String("tx_id", rec.TxID),
			zap.String("address", binding.Address))
	}
}

func (uc *DepositUsecase) publish(ctx context.Context, eventType string, rec *domain.DepositRecord) {
	err := uc.publisher.Publish(ctx, &events.Event{
		EventType:   eventType,
		UserID:      rec.UserID,
		TxID:        rec.TxID,
		ChainID:     rec.ChainID,
		Address:     rec.ToAddress,
		Asset:       rec.AssetSymbol,
		Amount:      rec.AmountAsset.String(),
		AmountLocal: rec.AmountLocal.String(),
		Currency:    rec.LocalCurrency,
		TxHash:      rec.TxHash,
	})
	if err != nil {
		uc.logger.Warn("failed to publish deposit event",
			zap.String("event", eventType),
			zap.String("tx_id", rec.TxID),
			zap.Error(err))
	}
}

// GetDeposit returns a deposit record by tx id.
func (uc *DepositUsecase) GetDeposit(ctx context.Context, txID string) (*domain.DepositRecord, error) {
	return uc.store.GetDeposit(ctx, strings.ToLower(strings.TrimSpace(txID)))
}

// ============================================================================
// ENTRY PARSING
// ============================================================================

func nativeEntry(network domain.NetworkInfo, tx domain.NativeTransfer) (*depositEntry, error) {
	if tx.Hash == "" {
		return nil, fmt.Errorf("%w: missing hash", xerrors.ErrInvalidInput)
	}
	if !common.IsHexAddress(tx.ToAddress) {
		return nil, fmt.Errorf("%w: bad destination %q", xerrors.ErrInvalidInput, tx.ToAddress)
	}
	raw, err := utils.ParseRawValue(tx.Value.String())
	if err != nil {
		return nil, fmt.Errorf("%w: value: %v", xerrors.ErrInvalidInput, err)
	}
	if raw.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero value transfer", xerrors.ErrInvalidInput)
	}

	return &depositEntry{
		txID:        domain.NativeTxID(tx.Hash),
		kind:        domain.DepositKindNative,
		hash:        strings.ToLower(tx.Hash),
		from:        strings.ToLower(tx.FromAddress),
		to:          strings.ToLower(tx.ToAddress),
		symbol:      network.Symbol,
		priceSymbol: network.PriceSymbol,
		raw:         raw,
		decimals:    network.Decimals,
	}, nil
}

// tokenEntry accepts only contracts listed for the chain. Symbol and decimals
// come from that listing; the feed's own values are never trusted.
func tokenEntry(tr domain.TokenTransfer, listed map[string]*domain.Asset) (*depositEntry, error) {
	if tr.TransactionHash == "" {
		return nil, fmt.Errorf("%w: missing transaction hash", xerrors.ErrInvalidInput)
	}
	if !common.IsHexAddress(tr.Contract) {
		return nil, fmt.Errorf("%w: bad contract %q", xerrors.ErrInvalidInput, tr.Contract)
	}
	contract := strings.ToLower(tr.Contract)
	asset, ok := listed[contract]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnlistedToken, contract)
	}
	if !common.IsHexAddress(tr.To) {
		return nil, fmt.Errorf("%w: bad destination %q", xerrors.ErrInvalidInput, tr.To)
	}
	logIndex, err := utils.ParseRawValue(tr.LogIndex.String())
	if err != nil || !logIndex.IsUint64() {
		return nil, fmt.Errorf("%w: log index %q", xerrors.ErrInvalidInput, tr.LogIndex)
	}
	raw, err := utils.ParseRawValue(tr.Value.String())
	if err != nil {
		return nil, fmt.Errorf("%w: value: %v", xerrors.ErrInvalidInput, err)
	}
	if raw.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero value transfer", xerrors.ErrInvalidInput)
	}

	symbol := strings.ToUpper(asset.Symbol)
	return &depositEntry{
		txID:        domain.TokenTxID(tr.TransactionHash, logIndex.Uint64()),
		kind:        domain.DepositKindToken,
		hash:        strings.ToLower(tr.TransactionHash),
		contract:    contract,
		from:        strings.ToLower(tr.From),
		to:          strings.ToLower(tr.To),
		symbol:      symbol,
		priceSymbol: symbol,
		raw:         raw,
		decimals:    asset.Decimals,
	}, nil
}

func outcome(out domain.EntryOutcome, status domain.OutcomeStatus, err error) domain.EntryOutcome {
	out.Status = status
	out.Err = err
	if err != nil {
		out.Message = publicMessage(err)
	}
	return out
}

// publicMessage keeps internal detail out of responses.
func publicMessage(err error) string {
	switch xerrors.KindOf(err) {
	case xerrors.KindInternal:
		return xerrors.ErrInternalServer.Error()
	case xerrors.KindTransient:
		return xerrors.ErrTransient.Error()
	}
	return err.Error()
}
