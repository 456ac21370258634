// internal/repository/memory_store.go
package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

// MemoryStore is a single-process Store. Transactions are serialized and
// rolled back by restoring a snapshot taken when they began.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type bindingKey struct {
	userID     string
	assetClass string
}

type memState struct {
	users    map[string]*domain.User
	bindings map[bindingKey]*domain.WalletBinding
	counters map[string]*domain.WalletIndexCounter
	deposits map[string]*domain.DepositRecord
}

func newMemState() *memState {
	return &memState{
		users:    make(map[string]*domain.User),
		bindings: make(map[bindingKey]*domain.WalletBinding),
		counters: make(map[string]*domain.WalletIndexCounter),
		deposits: make(map[string]*domain.DepositRecord),
	}
}

func (s *memState) clone() *memState {
	cp := newMemState()
	for k, v := range s.users {
		u := *v
		cp.users[k] = &u
	}
	for k, v := range s.bindings {
		b := *v
		cp.bindings[k] = &b
	}
	for k, v := range s.counters {
		c := *v
		cp.counters[k] = &c
	}
	for k, v := range s.deposits {
		cp.deposits[k] = v.Clone()
	}
	return cp
}

// PutUser seeds or replaces a user.
func (m *MemoryStore) PutUser(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.state.users[u.ID] = &cp
}

// UpsertUser creates the user if missing and leaves an existing one alone.
func (m *MemoryStore) UpsertUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.users[userID]; ok {
		return nil
	}
	now := time.Now()
	m.state.users[userID] = &domain.User{ID: userID, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() {}

// ============================================================================
// READS
// ============================================================================

func (m *MemoryStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetUser(ctx, userID)
}

func (m *MemoryStore) GetBinding(ctx context.Context, userID, assetClass string) (*domain.WalletBinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetBinding(ctx, userID, assetClass)
}

func (m *MemoryStore) FindBindingsByAddress(ctx context.Context, assetClass, address string) ([]*domain.WalletBinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.FindBindingsByAddress(ctx, assetClass, address)
}

func (m *MemoryStore) ListBindings(ctx context.Context, assetClass string, offset, limit int) ([]*domain.WalletBinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListBindings(ctx, assetClass, offset, limit)
}

func (m *MemoryStore) GetCounter(ctx context.Context, assetClass string) (*domain.WalletIndexCounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetCounter(ctx, assetClass)
}

func (m *MemoryStore) GetDeposit(ctx context.Context, txID string) (*domain.DepositRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetDeposit(ctx, txID)
}

// ============================================================================
// STATE (callers hold the store lock)
// ============================================================================

func (s *memState) GetUser(_ context.Context, userID string) (*domain.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, xerrors.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memState) LockUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.GetUser(ctx, userID)
}

func (s *memState) CreditBalance(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, xerrors.ErrUserNotFound
	}
	u.Balance = u.Balance.Add(amount)
	u.UpdatedAt = time.Now()
	return u.Balance, nil
}

func (s *memState) GetBinding(_ context.Context, userID, assetClass string) (*domain.WalletBinding, error) {
	b, ok := s.bindings[bindingKey{userID, assetClass}]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memState) FindBindingsByAddress(_ context.Context, assetClass, address string) ([]*domain.WalletBinding, error) {
	address = strings.ToLower(address)
	var out []*domain.WalletBinding
	for _, b := range s.bindings {
		if b.AssetClass == assetClass && b.Address == address {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memState) ListBindings(_ context.Context, assetClass string, offset, limit int) ([]*domain.WalletBinding, error) {
	var all []*domain.WalletBinding
	for _, b := range s.bindings {
		if b.AssetClass == assetClass {
			cp := *b
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].WalletIndex < all[j].WalletIndex })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *memState) CreateBinding(_ context.Context, b *domain.WalletBinding) error {
	key := bindingKey{b.UserID, b.AssetClass}
	if _, ok := s.bindings[key]; ok {
		return xerrors.ErrAlreadyBound
	}
	addr := strings.ToLower(b.Address)
	for _, existing := range s.bindings {
		if existing.AssetClass != b.AssetClass {
			continue
		}
		if existing.Address == addr || existing.WalletIndex == b.WalletIndex {
			return xerrors.ErrDuplicateBinding
		}
	}
	cp := *b
	cp.Address = addr
	s.bindings[key] = &cp
	return nil
}

func (s *memState) GetCounter(_ context.Context, assetClass string) (*domain.WalletIndexCounter, error) {
	c, ok := s.counters[assetClass]
	if !ok {
		return &domain.WalletIndexCounter{AssetClass: assetClass}, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memState) NextIndex(_ context.Context, assetClass string) (uint32, error) {
	c, ok := s.counters[assetClass]
	if !ok {
		c = &domain.WalletIndexCounter{AssetClass: assetClass}
		s.counters[assetClass] = c
	}
	allocated := c.NextIndex
	c.NextIndex++
	c.UpdatedAt = time.Now()
	return allocated, nil
}

func (s *memState) GetDeposit(_ context.Context, txID string) (*domain.DepositRecord, error) {
	d, ok := s.deposits[txID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *memState) LockDeposit(ctx context.Context, txID string) (*domain.DepositRecord, error) {
	return s.GetDeposit(ctx, txID)
}

func (s *memState) CreateDeposit(_ context.Context, d *domain.DepositRecord) error {
	if _, ok := s.deposits[d.TxID]; ok {
		return xerrors.ErrDepositExists
	}
	s.deposits[d.TxID] = d.Clone()
	return nil
}

func (s *memState) UpdateDeposit(_ context.Context, d *domain.DepositRecord) error {
	if _, ok := s.deposits[d.TxID]; !ok {
		return xerrors.ErrNotFound
	}
	s.deposits[d.TxID] = d.Clone()
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memState)(nil)
)
