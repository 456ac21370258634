// internal/chains/ethereum/ethereum.go
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Backend is the slice of the JSON-RPC client the chain needs.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type EthereumChain struct {
	client Backend
	closer func()
	logger *zap.Logger
	config *Config
}

type Config struct {
	RPCURL        string
	ChainID       *big.Int
	Name          string
	Symbol        string
	GasLimitETH   uint64
	GasLimitERC20 uint64
	MaxGasPrice   *big.Int // nil disables the cap
	RPCTimeout    time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.GasLimitETH == 0 {
		cfg.GasLimitETH = 21000 // Standard native transfer
	}
	if cfg.GasLimitERC20 == 0 {
		cfg.GasLimitERC20 = 65000
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 15 * time.Second
	}
}

// NewEthereumChain dials the RPC endpoint and checks it serves the expected
// chain id.
func NewEthereumChain(ctx context.Context, cfg Config, logger *zap.Logger) (*EthereumChain, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Name, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if cfg.ChainID != nil && cfg.ChainID.Cmp(chainID) != 0 {
		client.Close()
		return nil, fmt.Errorf("rpc %s serves chain %s, expected %s", cfg.Name, chainID, cfg.ChainID)
	}
	cfg.ChainID = chainID

	c := NewWithBackend(client, cfg, logger)
	c.closer = client.Close

	logger.Info("EVM chain initialized",
		zap.String("name", cfg.Name),
		zap.String("chain_id", c.ChainID()))

	return c, nil
}

// NewWithBackend wraps an existing backend. cfg.ChainID must be set.
func NewWithBackend(backend Backend, cfg Config, logger *zap.Logger) *EthereumChain {
	cfg.applyDefaults()
	return &EthereumChain{
		client: backend,
		logger: logger.With(zap.String("chain", cfg.Name)),
		config: &cfg,
	}
}

func (c *EthereumChain) Name() string {
	return c.config.Name
}

func (c *EthereumChain) ChainID() string {
	return "0x" + c.config.ChainID.Text(16)
}

func (c *EthereumChain) Symbol() string {
	return c.config.Symbol
}

func (c *EthereumChain) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// ValidateAddress validates an EVM address
func (c *EthereumChain) ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address format")
	}

	// Mixed case must be a valid checksum
	addr := common.HexToAddress(address)
	body := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && addr.Hex() != address {
		return fmt.Errorf("invalid address checksum")
	}

	return nil
}

// GetBalance gets balance for address and asset
func (c *EthereumChain) GetBalance(ctx context.Context, address string, asset *domain.Asset) (*domain.Balance, error) {
	if asset == nil {
		return nil, fmt.Errorf("asset is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RPCTimeout)
	defer cancel()

	switch asset.Type {
	case domain.AssetTypeNative:
		balance, err := c.client.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return nil, readErr("get native balance", err)
		}
		return &domain.Balance{
			Address:  address,
			Asset:    asset,
			Amount:   balance,
			Decimals: 18,
		}, nil

	case domain.AssetTypeToken:
		balance, err := c.getERC20Balance(ctx, address, asset)
		if err != nil {
			return nil, err
		}
		return &domain.Balance{
			Address:  address,
			Asset:    asset,
			Amount:   balance,
			Decimals: asset.Decimals,
		}, nil
	}

	return nil, fmt.Errorf("unsupported asset type: %s", asset.Type)
}

// SuggestFeeRate returns the node's gas price, capped at MaxGasPrice.
func (c *EthereumChain) SuggestFeeRate(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RPCTimeout)
	defer cancel()

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerrors.ErrFeeUnavailable, readErr("get gas price", err))
	}

	if c.config.MaxGasPrice != nil && gasPrice.Cmp(c.config.MaxGasPrice) > 0 {
		c.logger.Warn("gas price above cap, clamping",
			zap.String("suggested", gasPrice.String()),
			zap.String("cap", c.config.MaxGasPrice.String()))
		gasPrice = new(big.Int).Set(c.config.MaxGasPrice)
	}
	return gasPrice, nil
}

// EstimateTransferUnits estimates gas for the transfer. Native transfers fall
// back to the configured limit when the node cannot estimate; token
// transfers do not, since a failed estimate usually means a revert.
func (c *EthereumChain) EstimateTransferUnits(ctx context.Context, req *domain.TransferRequest) (uint64, error) {
	if req.Asset == nil {
		return 0, fmt.Errorf("asset is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RPCTimeout)
	defer cancel()

	from := common.HexToAddress(req.From)

	if req.Asset.IsToken() {
		data, err := packTransfer(common.HexToAddress(req.To), req.Amount)
		if err != nil {
			return 0, err
		}
		contract := common.HexToAddress(*req.Asset.ContractAddr)
		units, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &contract, Data: data})
		if err != nil {
			return 0, readErr("estimate token transfer gas", err)
		}
		return units, nil
	}

	to := common.HexToAddress(req.To)
	units, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: req.Amount})
	if err != nil {
		c.logger.Warn("gas estimate failed, using default limit",
			zap.String("from", req.From),
			zap.Uint64("gas_limit", c.config.GasLimitETH),
			zap.Error(err))
		return c.config.GasLimitETH, nil
	}
	return units, nil
}

// Send signs and broadcasts the transfer with the caller's fee rate and gas
// limit.
func (c *EthereumChain) Send(ctx context.Context, req *domain.TransferRequest) (*domain.TransactionResult, error) {
	if req.Asset == nil {
		return nil, fmt.Errorf("asset is required")
	}
	if req.Credential == nil || req.Credential.PrivateKey == nil {
		return nil, fmt.Errorf("signing credential is required")
	}
	if req.FeeRate == nil || req.FeeRate.Sign() <= 0 || req.GasLimit == 0 {
		return nil, fmt.Errorf("fee rate and gas limit are required")
	}
	if err := c.ValidateAddress(req.To); err != nil {
		return nil, fmt.Errorf("invalid destination: %w", err)
	}

	c.logger.Info("Sending EVM transaction",
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.String("asset", req.Asset.Symbol),
		zap.String("amount", req.Amount.String()))

	if req.Asset.IsToken() {
		return c.sendERC20(ctx, req)
	}
	return c.sendETH(ctx, req)
}

// broadcast fetches the nonce, signs and submits tx data built by the caller.
func (c *EthereumChain) broadcast(ctx context.Context, req *domain.TransferRequest, to common.Address, value *big.Int, data []byte) (*domain.TransactionResult, error) {
	fromAddr := common.HexToAddress(req.From)

	readCtx, cancel := context.WithTimeout(ctx, c.config.RPCTimeout)
	nonce, err := c.client.PendingNonceAt(readCtx, fromAddr)
	cancel()
	if err != nil {
		return nil, readErr("get nonce", err)
	}

	tx := types.NewTransaction(nonce, to, value, req.GasLimit, req.FeeRate, data)

	signedTx, err := signAs(tx, req.Credential, req.From, c.config.ChainID)
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.config.RPCTimeout)
	defer cancel()
	if err := c.client.SendTransaction(sendCtx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w: %w", xerrors.ErrTransferAborted, err)
	}

	return &domain.TransactionResult{
		TxHash:   signedTx.Hash().Hex(),
		Status:   domain.TxStatusPending,
		Fee:      new(big.Int).Mul(req.FeeRate, new(big.Int).SetUint64(req.GasLimit)),
		GasLimit: req.GasLimit,
		Nonce:    nonce,
	}, nil
}

// readErr marks RPC read failures as retryable.
func readErr(op string, err error) error {
	if errors.Is(err, xerrors.ErrTransient) {
		return err
	}
	return fmt.Errorf("failed to %s: %w: %w", op, xerrors.ErrTransient, err)
}

var _ domain.Chain = (*EthereumChain)(nil)
