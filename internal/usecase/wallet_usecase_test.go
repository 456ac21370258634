package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"deposit-service/internal/domain"
	"deposit-service/internal/repository"
	"deposit-service/pkg/xerrors"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type walletFixture struct {
	store     *repository.MemoryStore
	watcher   *fakeWatcher
	publisher *recordingPublisher
	uc        *WalletUsecase
}

func newWalletFixture(t *testing.T, users ...string) *walletFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := repository.NewMemoryStore()
	for _, id := range users {
		store.PutUser(&domain.User{ID: id})
	}
	f := &walletFixture{
		store:     store,
		watcher:   &fakeWatcher{},
		publisher: &recordingPublisher{},
	}
	f.uc = NewWalletUsecase(store, NewIndexAllocator(logger), newTestDeriver(t),
		f.watcher, f.publisher, nil, 0, logger)
	return f
}

func TestAssignAddressFirstUserGetsIndexZero(t *testing.T) {
	f := newWalletFixture(t, "u1")

	b, err := f.uc.AssignAddress(context.Background(), "u1", "")
	require.NoError(t, err)
	require.Equal(t, uint32(0), b.WalletIndex)
	require.Equal(t, "0x9858effd232b4033e47d90003d41ec34ecaeda94", b.Address)
	require.Equal(t, domain.AssetClassEVM, b.AssetClass)
	require.Equal(t, []string{b.Address}, f.watcher.watched)
	require.Contains(t, f.publisher.types(), "wallet.assigned")

	got, err := f.uc.GetBinding(context.Background(), "u1", "")
	require.NoError(t, err)
	require.Equal(t, b.Address, got.Address)
}

func TestAssignAddressConcurrentUsersGetDistinctIndices(t *testing.T) {
	const n = 32
	users := make([]string, n)
	for i := range users {
		users[i] = fmt.Sprintf("user-%02d", i)
	}
	f := newWalletFixture(t, users...)

	bindings := make([]*domain.WalletBinding, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i, id := range users {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			bindings[i], errs[i] = f.uc.AssignAddress(context.Background(), id, domain.AssetClassEVM)
		}(i, id)
	}
	wg.Wait()

	indices := make([]int, 0, n)
	addrs := make(map[string]bool)
	for i := range bindings {
		require.NoError(t, errs[i])
		indices = append(indices, int(bindings[i].WalletIndex))
		addrs[bindings[i].Address] = true
	}
	sort.Ints(indices)
	for i := 0; i < n; i++ {
		require.Equal(t, i, indices[i])
	}
	require.Len(t, addrs, n)

	c, err := f.store.GetCounter(context.Background(), domain.AssetClassEVM)
	require.NoError(t, err)
	require.Equal(t, uint32(n), c.NextIndex)
}

func TestAssignAddressSameUserConcurrently(t *testing.T) {
	f := newWalletFixture(t, "u1")

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.uc.AssignAddress(context.Background(), "u1", domain.AssetClassEVM)
		}(i)
	}
	wg.Wait()

	ok, bound := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, xerrors.ErrAlreadyBound):
			bound++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, n-1, bound)

	c, err := f.store.GetCounter(context.Background(), domain.AssetClassEVM)
	require.NoError(t, err)
	require.Equal(t, uint32(1), c.NextIndex)
}

func TestAssignAddressWatchFailureRollsBack(t *testing.T) {
	f := newWalletFixture(t, "u1")
	f.watcher.err = fmt.Errorf("%w: stream down", xerrors.ErrWatchRegistration)

	_, err := f.uc.AssignAddress(context.Background(), "u1", "")
	require.ErrorIs(t, err, xerrors.ErrWatchRegistration)

	c, err := f.store.GetCounter(context.Background(), domain.AssetClassEVM)
	require.NoError(t, err)
	require.Equal(t, uint32(0), c.NextIndex)

	_, err = f.store.GetBinding(context.Background(), "u1", domain.AssetClassEVM)
	require.ErrorIs(t, err, xerrors.ErrNotFound)

	f.watcher.err = nil
	b, err := f.uc.AssignAddress(context.Background(), "u1", "")
	require.NoError(t, err)
	require.Equal(t, uint32(0), b.WalletIndex)
}

func TestAssignAddressValidation(t *testing.T) {
	f := newWalletFixture(t, "u1")

	_, err := f.uc.AssignAddress(context.Background(), "ghost", "")
	require.ErrorIs(t, err, xerrors.ErrUserNotFound)

	_, err = f.uc.AssignAddress(context.Background(), "  ", "")
	require.ErrorIs(t, err, xerrors.ErrInvalidRequest)

	_, err = f.uc.AssignAddress(context.Background(), "u1", "TRON")
	require.ErrorIs(t, err, xerrors.ErrInvalidRequest)

	c, err := f.store.GetCounter(context.Background(), domain.AssetClassEVM)
	require.NoError(t, err)
	require.Equal(t, uint32(0), c.NextIndex)
}

func TestIndexAllocatorConcurrent(t *testing.T) {
	store := repository.NewMemoryStore()
	alloc := NewIndexAllocator(zaptest.NewLogger(t))
	ctx := context.Background()

	const n = 50
	got := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = withRetry(ctx, 0, nil, func() error {
				return store.InTx(ctx, func(tx repository.Tx) error {
					idx, err := alloc.AllocateIn(ctx, tx, domain.AssetClassEVM)
					got[i] = int(idx)
					return err
				})
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Ints(got)
	for i := range got {
		require.Equal(t, i, got[i])
	}
}

// exhaustedTx reports a counter past the non-hardened range.
type exhaustedTx struct {
	repository.Tx
}

func (exhaustedTx) NextIndex(context.Context, string) (uint32, error) {
	return maxWalletIndex + 1, nil
}

func TestIndexAllocatorRejectsHardenedRange(t *testing.T) {
	alloc := NewIndexAllocator(zaptest.NewLogger(t))
	_, err := alloc.AllocateIn(context.Background(), exhaustedTx{}, domain.AssetClassEVM)
	require.ErrorContains(t, err, "exhausted")
}

func TestWithRetryGivesUpAsTransient(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, nil, func() error {
		calls++
		return xerrors.ErrConcurrentModification
	})
	require.ErrorIs(t, err, xerrors.ErrTransient)
	require.Equal(t, 3, calls)

	calls = 0
	err = withRetry(context.Background(), 3, nil, func() error {
		calls++
		if calls < 2 {
			return xerrors.ErrConcurrentModification
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
