// internal/hdwallet/deriver.go
package hdwallet

import (
	"fmt"
	"strings"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// Deriver turns a wallet index into the credential at m/44'/60'/0'/0/{index}.
// Credentials are recomputed on every call and never cached.
type Deriver struct {
	master *hdkeychain.ExtendedKey
	base   accounts.DerivationPath
}

// NewDeriver validates the mnemonic and prepares the master key.
func NewDeriver(mnemonic string) (*Deriver, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if mnemonic == "" || !bip39.IsMnemonicValid(mnemonic) {
		return nil, xerrors.ErrInvalidMasterSecret
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrInvalidMasterSecret, err)
	}

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrInvalidMasterSecret, err)
	}

	base := make(accounts.DerivationPath, len(accounts.DefaultBaseDerivationPath))
	copy(base, accounts.DefaultBaseDerivationPath)

	return &Deriver{master: master, base: base}, nil
}

// Derive returns the signing credential for index. The same index always
// yields the same address.
func (d *Deriver) Derive(index uint32) (*domain.Credential, error) {
	if index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("wallet index %d out of range", index)
	}

	key := d.master
	for _, n := range append(d.base[:len(d.base):len(d.base)], index) {
		child, err := key.Derive(n)
		if err != nil {
			return nil, fmt.Errorf("failed to derive child %d: %w", n, err)
		}
		key = child
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to extract private key: %w", err)
	}
	ecdsaKey := priv.ToECDSA()

	return &domain.Credential{
		Index:      index,
		Address:    strings.ToLower(crypto.PubkeyToAddress(ecdsaKey.PublicKey).Hex()),
		PrivateKey: ecdsaKey,
	}, nil
}

// Address returns only the address at index.
func (d *Deriver) Address(index uint32) (string, error) {
	cred, err := d.Derive(index)
	if err != nil {
		return "", err
	}
	return cred.Address, nil
}

// Path renders the derivation path for index.
func (d *Deriver) Path(index uint32) string {
	return append(d.base[:len(d.base):len(d.base)], index).String()
}

// NewMnemonic generates a fresh 24-word master secret.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}
