package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubBackend struct {
	gasPrice   *big.Int
	gasErr     error
	estimate   uint64
	estErr     error
	balance    *big.Int
	callResult []byte
	nonce      uint64
	sendErr    error

	sent      []*types.Transaction
	estimates []ethereum.CallMsg
}

func (s *stubBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(56), nil }

func (s *stubBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return s.balance, nil
}

func (s *stubBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return s.callResult, nil
}

func (s *stubBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return s.gasPrice, s.gasErr
}

func (s *stubBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	s.estimates = append(s.estimates, msg)
	return s.estimate, s.estErr
}

func (s *stubBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return s.nonce, nil
}

func (s *stubBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, tx)
	return nil
}

var custody = common.HexToAddress("0x41df1029a8637900d3171ea0fb177720fa5ce049").Hex()

func newTestChain(t *testing.T, b *stubBackend) *EthereumChain {
	return NewWithBackend(b, Config{Name: "BSC", Symbol: "BNB", ChainID: big.NewInt(56)}, zaptest.NewLogger(t))
}

func newCredential(t *testing.T) *domain.Credential {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &domain.Credential{
		Address:    strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
		PrivateKey: key,
	}
}

func TestChainIdentity(t *testing.T) {
	c := newTestChain(t, &stubBackend{})
	require.Equal(t, "0x38", c.ChainID())
	require.Equal(t, "BNB", c.Symbol())
	require.Equal(t, "BSC", c.Name())
}

func TestSendNativeUsesCallerFeeAndLimit(t *testing.T) {
	b := &stubBackend{nonce: 4}
	c := newTestChain(t, b)
	cred := newCredential(t)
	to := custody

	res, err := c.Send(context.Background(), &domain.TransferRequest{
		From:       cred.Address,
		To:         to,
		Asset:      &domain.Asset{Symbol: "BNB", Type: domain.AssetTypeNative, Decimals: 18},
		Amount:     big.NewInt(1_000_000),
		Credential: cred,
		FeeRate:    big.NewInt(7_500_000_000),
		GasLimit:   21000,
	})
	require.NoError(t, err)
	require.Len(t, b.sent, 1)

	tx := b.sent[0]
	require.Equal(t, uint64(4), tx.Nonce())
	require.Equal(t, uint64(21000), tx.Gas())
	require.Equal(t, "7500000000", tx.GasPrice().String())
	require.Equal(t, "1000000", tx.Value().String())
	require.True(t, strings.EqualFold(to, tx.To().Hex()))
	require.Equal(t, tx.Hash().Hex(), res.TxHash)
	require.Equal(t, new(big.Int).Mul(big.NewInt(7_500_000_000), big.NewInt(21000)).String(), res.Fee.String())

	sender, err := recoverSigner(tx, big.NewInt(56))
	require.NoError(t, err)
	require.True(t, strings.EqualFold(cred.Address, sender))
}

func TestSendRejectsForeignCredential(t *testing.T) {
	b := &stubBackend{}
	c := newTestChain(t, b)
	cred := newCredential(t)
	other := newCredential(t)

	_, err := c.Send(context.Background(), &domain.TransferRequest{
		From:       other.Address,
		To:         custody,
		Asset:      &domain.Asset{Type: domain.AssetTypeNative},
		Amount:     big.NewInt(1),
		Credential: cred,
		FeeRate:    big.NewInt(1),
		GasLimit:   21000,
	})
	require.Error(t, err)
	require.Empty(t, b.sent)
}

func TestSendTokenPacksTransfer(t *testing.T) {
	b := &stubBackend{}
	c := newTestChain(t, b)
	cred := newCredential(t)
	contract := "0x55d398326f99059ff775485246999027b3197955"

	_, err := c.Send(context.Background(), &domain.TransferRequest{
		From:       cred.Address,
		To:         custody,
		Asset:      &domain.Asset{Symbol: "USDT", Type: domain.AssetTypeToken, ContractAddr: &contract, Decimals: 18},
		Amount:     big.NewInt(250),
		Credential: cred,
		FeeRate:    big.NewInt(3_000_000_000),
		GasLimit:   52000,
	})
	require.NoError(t, err)
	require.Len(t, b.sent, 1)

	tx := b.sent[0]
	require.Equal(t, 0, tx.Value().Sign())
	require.True(t, strings.EqualFold(contract, tx.To().Hex()))
	require.Equal(t, "a9059cbb", hex.EncodeToString(tx.Data()[:4]))
	require.Equal(t, uint64(52000), tx.Gas())
}

func TestSendFailureIsNotRetryable(t *testing.T) {
	b := &stubBackend{sendErr: errors.New("connection reset")}
	c := newTestChain(t, b)
	cred := newCredential(t)

	_, err := c.Send(context.Background(), &domain.TransferRequest{
		From:       cred.Address,
		To:         custody,
		Asset:      &domain.Asset{Type: domain.AssetTypeNative},
		Amount:     big.NewInt(1),
		Credential: cred,
		FeeRate:    big.NewInt(1),
		GasLimit:   21000,
	})
	require.ErrorIs(t, err, xerrors.ErrTransferAborted)
	require.False(t, errors.Is(err, xerrors.ErrTransient))
}

func TestSuggestFeeRate(t *testing.T) {
	b := &stubBackend{gasPrice: big.NewInt(200e9)}
	c := NewWithBackend(b, Config{Name: "ETH", ChainID: big.NewInt(1), MaxGasPrice: big.NewInt(100e9)}, zaptest.NewLogger(t))

	rate, err := c.SuggestFeeRate(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(100e9), rate.Int64())

	b.gasErr = errors.New("timeout")
	_, err = c.SuggestFeeRate(context.Background())
	require.ErrorIs(t, err, xerrors.ErrFeeUnavailable)
	require.ErrorIs(t, err, xerrors.ErrTransient)
}

func TestEstimateTransferUnits(t *testing.T) {
	b := &stubBackend{estimate: 21000}
	c := newTestChain(t, b)
	native := &domain.Asset{Type: domain.AssetTypeNative}

	units, err := c.EstimateTransferUnits(context.Background(), &domain.TransferRequest{
		From: "0x0000000000000000000000000000000000000001", To: "0x0000000000000000000000000000000000000002",
		Asset: native, Amount: big.NewInt(5),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(21000), units)

	b.estErr = errors.New("execution reverted")
	units, err = c.EstimateTransferUnits(context.Background(), &domain.TransferRequest{
		From: "0x0000000000000000000000000000000000000001", To: "0x0000000000000000000000000000000000000002",
		Asset: native, Amount: big.NewInt(5),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(21000), units)

	contract := "0x55d398326f99059ff775485246999027b3197955"
	_, err = c.EstimateTransferUnits(context.Background(), &domain.TransferRequest{
		From: "0x0000000000000000000000000000000000000001", To: "0x0000000000000000000000000000000000000002",
		Asset:  &domain.Asset{Type: domain.AssetTypeToken, ContractAddr: &contract},
		Amount: big.NewInt(5),
	})
	require.ErrorIs(t, err, xerrors.ErrTransient)
}

func TestGetTokenBalance(t *testing.T) {
	b := &stubBackend{callResult: common.LeftPadBytes(big.NewInt(123456).Bytes(), 32)}
	c := newTestChain(t, b)
	contract := "0x55d398326f99059ff775485246999027b3197955"

	bal, err := c.GetBalance(context.Background(), "0x0000000000000000000000000000000000000001",
		&domain.Asset{Symbol: "USDT", Type: domain.AssetTypeToken, ContractAddr: &contract, Decimals: 18})
	require.NoError(t, err)
	require.Equal(t, int64(123456), bal.Amount.Int64())

	b.callResult = nil
	bal, err = c.GetBalance(context.Background(), "0x0000000000000000000000000000000000000001",
		&domain.Asset{Symbol: "USDT", Type: domain.AssetTypeToken, ContractAddr: &contract, Decimals: 18})
	require.NoError(t, err)
	require.Equal(t, 0, bal.Amount.Sign())
}

func TestValidateAddress(t *testing.T) {
	c := newTestChain(t, &stubBackend{})
	require.NoError(t, c.ValidateAddress("0x41df1029a8637900d3171ea0fb177720fa5ce049"))
	require.NoError(t, c.ValidateAddress(custody))
	require.Error(t, c.ValidateAddress("0x41df1029a8637900d3171ea0fb177720fa5ce04"))
	require.Error(t, c.ValidateAddress("not-an-address"))
}
