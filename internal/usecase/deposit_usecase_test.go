package usecase

import (
	"context"
	"testing"

	"deposit-service/internal/domain"
	"deposit-service/internal/pricing"
	"deposit-service/internal/repository"
	"deposit-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const bscUSDT = "0x55d398326f99059ff775485246999027b3197955"

type depositFixture struct {
	store     *repository.MemoryStore
	wallet    *WalletUsecase
	sweeper   *recordingScheduler
	publisher *recordingPublisher
	uc        *DepositUsecase
	binding   *domain.WalletBinding
}

func newDepositFixture(t *testing.T, conv Converter, policy RatePolicy) *depositFixture {
	t.Helper()
	w := newWalletFixture(t, "u1", "u2")
	b, err := w.uc.AssignAddress(context.Background(), "u1", "")
	require.NoError(t, err)

	f := &depositFixture{
		store:     w.store,
		wallet:    w.uc,
		sweeper:   &recordingScheduler{},
		publisher: &recordingPublisher{},
		binding:   b,
	}
	f.uc = NewDepositUsecase(w.store, conv, f.sweeper, f.publisher, nil,
		DepositConfig{RatePolicy: policy, Tokens: bscTokens()}, zaptest.NewLogger(t))
	return f
}

func bscTokens() map[string][]*domain.Asset {
	contract := bscUSDT
	return map[string][]*domain.Asset{
		"0x38": {{Chain: "BSC", Symbol: "USDT", ContractAddr: &contract, Decimals: 18, Type: domain.AssetTypeToken}},
	}
}

// bnbConverter prices BNB at 700 USD with the 1650 fallback rate.
func bnbConverter(t *testing.T) *pricing.Converter {
	return pricing.NewConverter(pricing.Config{
		Currency:        "NGN",
		FallbackFXRate:  decimal.NewFromInt(1650),
		StableContracts: []string{bscUSDT},
		PriceOverrides:  map[string]decimal.Decimal{"BNB": decimal.NewFromInt(700)},
	}, nil, nil, nil, zaptest.NewLogger(t))
}

func nativeNotification(confirmed bool, hash, to, value string) *domain.DepositNotification {
	return &domain.DepositNotification{
		Confirmed: confirmed,
		ChainID:   "0x38",
		Txs: []domain.NativeTransfer{{
			Hash:        hash,
			FromAddress: "0x1111111111111111111111111111111111111111",
			ToAddress:   to,
			Value:       domain.FlexString(value),
		}},
	}
}

func (f *depositFixture) balance(t *testing.T) decimal.Decimal {
	return f.balanceOf(t, "u1")
}

func (f *depositFixture) balanceOf(t *testing.T, userID string) decimal.Decimal {
	u, err := f.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}

func tokenNotification(confirmed bool, transfers ...domain.TokenTransfer) *domain.DepositNotification {
	return &domain.DepositNotification{Confirmed: confirmed, ChainID: "0x38", ERC20Transfers: transfers}
}

func TestProcessEmptyNotification(t *testing.T) {
	f := newDepositFixture(t, bnbConverter(t), RateAtPending)

	res, err := f.uc.Process(context.Background(), &domain.DepositNotification{ChainID: "0x38"})
	require.NoError(t, err)
	require.Empty(t, res.Entries)
}

func TestProcessUnsupportedChain(t *testing.T) {
	f := newDepositFixture(t, bnbConverter(t), RateAtPending)

	n := nativeNotification(false, "0xaa", f.binding.Address, "1")
	n.ChainID = "0x9999"
	_, err := f.uc.Process(context.Background(), n)
	require.ErrorIs(t, err, xerrors.ErrUnsupportedChain)
}

func TestProcessDuplicateUnconfirmedCreatesOneRecord(t *testing.T) {
	f := newDepositFixture(t, bnbConverter(t), RateAtPending)
	ctx := context.Background()
	n := nativeNotification(false, "0xABC1", f.binding.Address, "1000000000000000000")

	res, err := f.uc.Process(ctx, n)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomePendingCreated, res.Entries[0].Status)

	res, err = f.uc.Process(ctx, n)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomePendingExists, res.Entries[0].Status)

	rec, err := f.uc.GetDeposit(ctx, "0xabc1")
	require.NoError(t, err)
	require.Equal(t, domain.DepositStatusPending, rec.Status)
	require.Equal(t, "u1", rec.UserID)
	require.Equal(t, "BNB", rec.AssetSymbol)
	require.True(t, rec.AmountLocal.Equal(decimal.NewFromInt(1155000)), rec.AmountLocal.String())
	require.True(t, f.balance(t).IsZero())
	require.Empty(t, f.sweeper.jobs)
}

func TestProcessConfirmationWithoutPending(t *testing.T) {
	f := newDepositFixture(t, bnbConverter(t), RateAtPending)
	ctx := context.Background()

	res, err := f.uc.Process(ctx, nativeNotification(true, "0xabc2", f.binding.Address, "1000"))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomePendingMissing, res.Entries[0].Status)
	require.ErrorIs(t, res.FirstError(domain.OutcomePendingMissing), xerrors.ErrPendingRecordMissing)

	_, err = f.store.GetDeposit(ctx, "0xabc2")
	require.ErrorIs(t, err, xerrors.ErrNotFound)
	require.True(t, f.balance(t).IsZero())
	require.Empty(t, f.sweeper.jobs)
}

func TestProcessEndToEndCreditsOnce(t *testing.T) {
	f := newDepositFixture(t, bnbConverter(t), RateAtPending)
	ctx := context.Background()

	pending := nativeNotification(false, "0xabc3", f.binding.Address, "1000000000000000000")
	confirmed := nativeNotification(true, "0xabc3", f.binding.Address, "1000000000000000000")

	_, err := f.uc.Process(ctx, pending)
	require.NoError(t, err)

	res, err := f.uc.Process(ctx, confirmed)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCredited, res.Entries[0].Status)

	res, err = f.uc.Process(ctx, confirmed)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeAlreadyCredited, res.Entries[0].Status)

	require.True(t, f.balance(t).Equal(decimal.NewFromInt(1155000)), f.balance(t).String())

	rec, err := f.uc.GetDeposit(ctx, "0xabc3")
	require.NoError(t, err)
	require.Equal(t, domain.DepositStatusSuccess, rec.Status)
	require.NotNil(t, rec.ConfirmedAt)

	require.Len(t, f.sweeper.jobs, 1)
	job := f.sweeper.jobs[0]
	require.Equal(t, f.binding.Address, job.Address)
	require.Equal(t, f.binding.WalletIndex, job.WalletIndex)
	require.Equal(t, "0x38", job.ChainID)
	require.False(t, job.Asset.IsToken())
	require.Equal(t, "0xabc3", job.TriggeredBy)

	require.Equal(t, []string{"deposit.pending", "deposit.credited"}, f.publisher.types())
}

func TestProcessTokenTransfer(t *testing.T) {
	f := newDepositFixture(t, bnbConverter(t), RateAtPending)
	ctx := context.Background()

	transfer := domain.TokenTransfer{
		TransactionHash: "0xT0K",
		LogIndex:        "3",
		Contract:        "0x55D398326F99059FF775485246999027B3197955",
		From:            "0x2222222222222222222222222222222222222222",
		To:              f.binding.Address,
		Value:           "250000000000000000000",
		TokenSymbol:     "BSC-USD",
		TokenDecimals:   "6",
	}
	n := tokenNotification(false, transfer)

	res, err := f.uc.Process(ctx, n)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomePendingCreated, res.Entries[0].Status)
	txID := "0xt0k:3"
	require.Equal(t, txID, res.Entries[0].TxID)

	n.Confirmed = true
	res, err = f.uc.Process(ctx, n)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCredited, res.Entries[0].Status)

	rec, err := f.uc.GetDeposit(ctx, txID)
	require.NoError(t, err)
	require.Equal(t, domain.DepositKindToken, rec.Kind)
	require.Equal(t, "USDT", rec.AssetSymbol)
	require.Equal(t, 18, rec.Decimals)
	require.True(t, rec.UnitPriceUSD.Equal(decimal.NewFromInt(1)))
	require.True(t, f.balance(t).Equal(decimal.NewFromInt(412500)), f.balance(t).String())

	require.Len(t, f.sweeper.jobs, 1)
	require.True(t, f.sweeper.jobs[0].Asset.IsToken())
	require.Equal(t, bscUSDT, f.sweeper.jobs[0].Asset.Contract())
}

func TestProcessUnlistedTokenIsIgnored(t *testing.T) {
	f := newDepositFixture(t, bnbConverter(t), RateAtPending)
	ctx := context.Background()

	fake := domain.TokenTransfer{
		TransactionHash: "0xfake",
		LogIndex:        "0",
		Contract:        "0x9999999999999999999999999999999999999999",
		From:            "0x2222222222222222222222222222222222222222",
		To:              f.binding.Address,
		Value:           "1000000000000000000000",
		TokenSymbol:     "USDT",
		TokenDecimals:   "18",
	}

	for _, confirmed := range []bool{false, true} {
		res, err := f.uc.Process(ctx, tokenNotification(confirmed, fake))
		require.NoError(t, err)
		require.Equal(t, domain.OutcomeIgnored, res.Entries[0].Status)
		require.NoError(t, res.Entries[0].Err)
	}

	_, err := f.store.GetDeposit(ctx, "0xfake:0")
	require.ErrorIs(t, err, xerrors.ErrNotFound)
	require.True(t, f.balance(t).IsZero())
	require.Empty(t, f.sweeper.jobs)
}

func TestProcessTokenTransfersInOneTransaction(t *testing.T) {
	f := newDepositFixture(t, bnbConverter(t), RateAtPending)
	ctx := context.Background()

	second, err := f.wallet.AssignAddress(ctx, "u2", "")
	require.NoError(t, err)

	transfer := func(logIndex domain.FlexString, to, value string) domain.TokenTransfer {
		return domain.TokenTransfer{
			TransactionHash: "0xbatch",
			LogIndex:        logIndex,
			Contract:        bscUSDT,
			From:            "0x2222222222222222222222222222222222222222",
			To:              to,
			Value:           domain.FlexString(value),
		}
	}
	transfers := []domain.TokenTransfer{
		transfer("3", f.binding.Address, "100000000000000000000"),
		transfer("0x4", second.Address, "200000000000000000000"),
	}

	res, err := f.uc.Process(ctx, tokenNotification(false, transfers...))
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	require.Equal(t, domain.OutcomePendingCreated, res.Entries[0].Status)
	require.Equal(t, domain.OutcomePendingCreated, res.Entries[1].Status)
	require.Equal(t, "0xbatch:3", res.Entries[0].TxID)
	require.Equal(t, "0xbatch:4", res.Entries[1].TxID)

	res, err = f.uc.Process(ctx, tokenNotification(true, transfers...))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCredited, res.Entries[0].Status)
	require.Equal(t, domain.OutcomeCredited, res.Entries[1].Status)

	require.True(t, f.balanceOf(t, "u1").Equal(decimal.NewFromInt(165000)), f.balanceOf(t, "u1").String())
	require.True(t, f.balanceOf(t, "u2").Equal(decimal.NewFromInt(330000)), f.balanceOf(t, "u2").String())
}

func TestProcessTokenTransferNeedsLogIndex(t *testing.T) {
	f := newDepositFixture(t, bnbConverter(t), RateAtPending)

	res, err := f.uc.Process(context.Background(), tokenNotification(false, domain.TokenTransfer{
		TransactionHash: "0xnolog",
		Contract:        bscUSDT,
		To:              f.binding.Address,
		Value:           "1000",
	}))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeInvalid, res.Entries[0].Status)
	require.ErrorIs(t, res.Entries[0].Err, xerrors.ErrInvalidInput)
}

func TestProcessEntriesAreIndependent(t *testing.T) {
	f := newDepositFixture(t, bnbConverter(t), RateAtPending)

	n := &domain.DepositNotification{
		ChainID: "0x38",
		Txs: []domain.NativeTransfer{
			{Hash: "0xbad", ToAddress: f.binding.Address, Value: "not-a-number"},
			{Hash: "0xzero", ToAddress: f.binding.Address, Value: "0"},
			{Hash: "0xother", ToAddress: "0x3333333333333333333333333333333333333333", Value: "5"},
			{Hash: "0xgood", ToAddress: f.binding.Address, Value: "5"},
		},
	}
	res, err := f.uc.Process(context.Background(), n)
	require.NoError(t, err)
	require.Len(t, res.Entries, 4)
	require.Equal(t, domain.OutcomeInvalid, res.Entries[0].Status)
	require.Equal(t, domain.OutcomeInvalid, res.Entries[1].Status)
	require.Equal(t, domain.OutcomeIgnored, res.Entries[2].Status)
	require.Equal(t, domain.OutcomePendingCreated, res.Entries[3].Status)
}

func TestProcessRateAtConfirmation(t *testing.T) {
	conv := &fixedConverter{}
	conv.setPrice(700)
	f := newDepositFixture(t, conv, RateAtConfirmation)
	ctx := context.Background()

	_, err := f.uc.Process(ctx, nativeNotification(false, "0xabc4", f.binding.Address, "1000000000000000000"))
	require.NoError(t, err)

	conv.setPrice(800)
	res, err := f.uc.Process(ctx, nativeNotification(true, "0xabc4", f.binding.Address, "1000000000000000000"))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeCredited, res.Entries[0].Status)

	require.True(t, f.balance(t).Equal(decimal.NewFromInt(1320000)), f.balance(t).String())
	rec, err := f.uc.GetDeposit(ctx, "0xabc4")
	require.NoError(t, err)
	require.True(t, rec.UnitPriceUSD.Equal(decimal.NewFromInt(800)))
}

func TestConfirmationRateChecksRecordBeforePricing(t *testing.T) {
	conv := &unavailableConverter{}
	f := newDepositFixture(t, conv, RateAtConfirmation)
	ctx := context.Background()

	res, err := f.uc.Process(ctx, nativeNotification(true, "0xabc7", f.binding.Address, "1000"))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomePendingMissing, res.Entries[0].Status)
	require.ErrorIs(t, res.Entries[0].Err, xerrors.ErrPendingRecordMissing)
	require.Zero(t, conv.calls)

	priced := &fixedConverter{}
	priced.setPrice(700)
	seed := NewDepositUsecase(f.store, priced, nil, nil, nil,
		DepositConfig{RatePolicy: RateAtConfirmation}, zaptest.NewLogger(t))
	_, err = seed.Process(ctx, nativeNotification(false, "0xabc8", f.binding.Address, "1000000000000000000"))
	require.NoError(t, err)
	_, err = seed.Process(ctx, nativeNotification(true, "0xabc8", f.binding.Address, "1000000000000000000"))
	require.NoError(t, err)

	res, err = f.uc.Process(ctx, nativeNotification(true, "0xabc8", f.binding.Address, "1000000000000000000"))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeAlreadyCredited, res.Entries[0].Status)
	require.Zero(t, conv.calls)
	require.True(t, f.balance(t).Equal(decimal.NewFromInt(1155000)), f.balance(t).String())
}

func TestProcessRateFrozenAtPending(t *testing.T) {
	conv := &fixedConverter{}
	conv.setPrice(700)
	f := newDepositFixture(t, conv, RateAtPending)
	ctx := context.Background()

	_, err := f.uc.Process(ctx, nativeNotification(false, "0xabc5", f.binding.Address, "1000000000000000000"))
	require.NoError(t, err)

	conv.setPrice(800)
	_, err = f.uc.Process(ctx, nativeNotification(true, "0xabc5", f.binding.Address, "1000000000000000000"))
	require.NoError(t, err)
	require.True(t, f.balance(t).Equal(decimal.NewFromInt(1155000)), f.balance(t).String())
}

// dupStore reports every address as bound twice.
type dupStore struct {
	repository.Store
}

func (s dupStore) FindBindingsByAddress(ctx context.Context, assetClass, address string) ([]*domain.WalletBinding, error) {
	b := &domain.WalletBinding{UserID: "u1", AssetClass: assetClass, Address: address}
	return []*domain.WalletBinding{b, b}, nil
}

func TestProcessDuplicateBindingFailsEntry(t *testing.T) {
	f := newDepositFixture(t, bnbConverter(t), RateAtPending)
	uc := NewDepositUsecase(dupStore{f.store}, bnbConverter(t), f.sweeper, nil, nil,
		DepositConfig{}, zaptest.NewLogger(t))

	res, err := uc.Process(context.Background(), nativeNotification(false, "0xabc6", f.binding.Address, "10"))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFailed, res.Entries[0].Status)
	require.ErrorIs(t, res.Entries[0].Err, xerrors.ErrDuplicateBinding)

	_, err = f.store.GetDeposit(context.Background(), "0xabc6")
	require.ErrorIs(t, err, xerrors.ErrNotFound)
}
