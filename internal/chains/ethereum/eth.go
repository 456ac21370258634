// internal/chains/ethereum/eth.go
package ethereum

import (
	"context"

	"deposit-service/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

func (c *EthereumChain) sendETH(ctx context.Context, req *domain.TransferRequest) (*domain.TransactionResult, error) {
	result, err := c.broadcast(ctx, req, common.HexToAddress(req.To), req.Amount, nil)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Native transaction sent",
		zap.String("tx_hash", result.TxHash),
		zap.Uint64("nonce", result.Nonce),
		zap.String("max_fee", result.Fee.String()))

	return result, nil
}
