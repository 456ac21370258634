// internal/repository/user_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const userColumns = `id, balance::text, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	u := &domain.User{}
	var balanceStr string
	if err := row.Scan(&u.ID, &balanceStr, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	bal, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("invalid stored balance %q: %w", balanceStr, err)
	}
	u.Balance = bal
	return u, nil
}

func (r pgQueries) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (t *pgTx) LockUser(ctx context.Context, userID string) (*domain.User, error) {
	u, err := scanUser(t.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return u, nil
}

func (t *pgTx) CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balanceStr string
	err := t.q.QueryRow(ctx, `
		UPDATE users
		SET balance = balance + $2::numeric, updated_at = NOW()
		WHERE id = $1
		RETURNING balance::text
	`, userID, amount.String()).Scan(&balanceStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, xerrors.ErrUserNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to credit balance: %w", err)
	}
	return decimal.NewFromString(balanceStr)
}

// UpsertUser creates the user row if missing. Used for provisioning only.
func (s *PostgresStore) UpsertUser(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
