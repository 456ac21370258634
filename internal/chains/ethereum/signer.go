// internal/chains/ethereum/signer.go
package ethereum

import (
	"fmt"
	"math/big"
	"strings"

	"deposit-service/internal/domain"

	"github.com/ethereum/go-ethereum/core/types"
)

// signAs signs tx with the derived credential (EIP-155) and checks the
// recovered sender is the deposit address the caller meant to spend from.
func signAs(tx *types.Transaction, cred *domain.Credential, from string, chainID *big.Int) (*types.Transaction, error) {
	if cred == nil || cred.PrivateKey == nil {
		return nil, fmt.Errorf("no signing credential for %s", from)
	}

	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), cred.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sender, err := recoverSigner(signed, chainID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(sender, from) {
		return nil, fmt.Errorf("credential signs for %s, not %s", sender, from)
	}
	return signed, nil
}

func recoverSigner(tx *types.Transaction, chainID *big.Int) (string, error) {
	sender, err := types.Sender(types.NewEIP155Signer(chainID), tx)
	if err != nil {
		return "", fmt.Errorf("failed to recover sender: %w", err)
	}
	return sender.Hex(), nil
}
