// internal/chains/ethereum/erc20.go
package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"deposit-service/internal/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ERC-20 ABI for balanceOf and transfer functions
const erc20ABI = `[
	{
		"constant": true,
		"inputs": [{"name": "_owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "balance", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "_to", "type": "address"},
			{"name": "_value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

var parsedERC20 = mustParseABI(erc20ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

func packTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	data, err := parsedERC20.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer: %w", err)
	}
	return data, nil
}

// getERC20Balance gets ERC-20 token balance
func (c *EthereumChain) getERC20Balance(ctx context.Context, address string, asset *domain.Asset) (*big.Int, error) {
	if asset.ContractAddr == nil {
		return nil, fmt.Errorf("contract address required for token")
	}

	data, err := parsedERC20.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	contractAddr := common.HexToAddress(*asset.ContractAddr)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &contractAddr, Data: data}, nil)
	if err != nil {
		return nil, readErr("call balanceOf", err)
	}

	// Empty result: address never interacted with the token
	if len(result) == 0 {
		c.logger.Debug("Empty result from balanceOf call",
			zap.String("address", address),
			zap.String("token", asset.Symbol))
		return big.NewInt(0), nil
	}

	var balance *big.Int
	if err := parsedERC20.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("failed to unpack balance: %w", err)
	}
	if balance == nil {
		balance = big.NewInt(0)
	}

	return balance, nil
}

// sendERC20 calls transfer(to, amount) on the token contract
func (c *EthereumChain) sendERC20(ctx context.Context, req *domain.TransferRequest) (*domain.TransactionResult, error) {
	data, err := packTransfer(common.HexToAddress(req.To), req.Amount)
	if err != nil {
		return nil, err
	}

	contract := common.HexToAddress(*req.Asset.ContractAddr)
	result, err := c.broadcast(ctx, req, contract, big.NewInt(0), data)
	if err != nil {
		return nil, err
	}

	c.logger.Info("ERC-20 transaction sent",
		zap.String("tx_hash", result.TxHash),
		zap.String("token", req.Asset.Symbol),
		zap.String("contract", contract.Hex()),
		zap.String("max_fee", result.Fee.String()))

	return result, nil
}
