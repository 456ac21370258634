// internal/repository/store.go
package repository

import (
	"context"

	"deposit-service/internal/domain"

	"github.com/shopspring/decimal"
)

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetBinding(ctx context.Context, userID, assetClass string) (*domain.WalletBinding, error)
	FindBindingsByAddress(ctx context.Context, assetClass, address string) ([]*domain.WalletBinding, error)
	ListBindings(ctx context.Context, assetClass string, offset, limit int) ([]*domain.WalletBinding, error)
	GetCounter(ctx context.Context, assetClass string) (*domain.WalletIndexCounter, error)
	GetDeposit(ctx context.Context, txID string) (*domain.DepositRecord, error)
}

// Tx is a unit of work. Everything written through it commits together or
// not at all.
type Tx interface {
	Reader

	// LockUser reads the user and holds it until the transaction ends.
	LockUser(ctx context.Context, userID string) (*domain.User, error)

	// NextIndex hands out the counter's current value and advances it by one.
	NextIndex(ctx context.Context, assetClass string) (uint32, error)

	CreateBinding(ctx context.Context, b *domain.WalletBinding) error

	// LockDeposit reads the record and holds it until the transaction ends.
	LockDeposit(ctx context.Context, txID string) (*domain.DepositRecord, error)
	CreateDeposit(ctx context.Context, d *domain.DepositRecord) error
	UpdateDeposit(ctx context.Context, d *domain.DepositRecord) error

	// CreditBalance adds amount to the user's balance and returns the new total.
	CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

// Store is the transactional document store behind users, bindings,
// counters and deposit records.
type Store interface {
	Reader

	// InTx runs fn in one transaction. Conflicts with concurrent writers
	// surface as xerrors.ErrConcurrentModification.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close()
}
