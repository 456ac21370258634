package worker

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"deposit-service/internal/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type blockingSweeper struct {
	mu      sync.Mutex
	release chan struct{}
	jobs    []domain.SweepJob
	done    chan struct{}
}

func (s *blockingSweeper) Sweep(ctx context.Context, job domain.SweepJob) (*domain.SweepResult, error) {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	if s.done != nil {
		s.done <- struct{}{}
	}
	return &domain.SweepResult{Status: domain.SweepStatusSubmitted}, nil
}

func nativeJob(addr string) domain.SweepJob {
	return domain.SweepJob{
		ChainID: "0x38",
		Address: addr,
		Asset:   &domain.Asset{Symbol: "BNB", Decimals: 18, Type: domain.AssetTypeNative},
	}
}

func TestSweepWorkerEnqueueNeverBlocks(t *testing.T) {
	sw := NewSweepWorker(&blockingSweeper{}, 1, 2, time.Second, nil, zaptest.NewLogger(t))

	require.True(t, sw.Enqueue(nativeJob("0xa")))
	require.True(t, sw.Enqueue(nativeJob("0xb")))
	// queue is full and no worker is running
	require.False(t, sw.Enqueue(nativeJob("0xc")))
	// same address and asset as a queued job is absorbed
	require.True(t, sw.Enqueue(nativeJob("0xA")))
}

func TestSweepWorkerProcessesJobs(t *testing.T) {
	sweeper := &blockingSweeper{done: make(chan struct{}, 8)}
	sw := NewSweepWorker(sweeper, 2, 8, time.Second, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		sw.Start(ctx)
		close(stopped)
	}()

	for i := 0; i < 3; i++ {
		require.True(t, sw.Enqueue(nativeJob(fmt.Sprintf("0x%d", i))))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-sweeper.done:
		case <-time.After(5 * time.Second):
			t.Fatal("sweep not processed")
		}
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	require.Len(t, sweeper.jobs, 3)
}

func TestSweepWorkerRejectsAfterStop(t *testing.T) {
	sw := NewSweepWorker(&blockingSweeper{}, 1, 4, time.Second, nil, zaptest.NewLogger(t))
	sw.Stop()
	sw.Stop()
	require.False(t, sw.Enqueue(nativeJob("0xa")))
}

func TestSweepWorkerDropsIdleAddressLocks(t *testing.T) {
	sw := NewSweepWorker(&blockingSweeper{}, 1, 4, time.Second, nil, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sw.process(context.Background(), nativeJob(fmt.Sprintf("0x%d", i%5)))
		}(i)
	}
	wg.Wait()

	sw.mu.Lock()
	defer sw.mu.Unlock()
	require.Empty(t, sw.running)
	require.Empty(t, sw.pending)
}

type listedBindings []*domain.WalletBinding

func (l listedBindings) ListBindings(_ context.Context, _ string, offset, limit int) ([]*domain.WalletBinding, error) {
	if offset >= len(l) {
		return nil, nil
	}
	end := offset + limit
	if end > len(l) {
		end = len(l)
	}
	return l[offset:end], nil
}

type balanceChain struct {
	balances map[string]*big.Int // address|contract
}

func (c *balanceChain) Name() string    { return "BSC" }
func (c *balanceChain) ChainID() string { return "0x38" }
func (c *balanceChain) Symbol() string  { return "BNB" }
func (c *balanceChain) GetBalance(_ context.Context, address string, asset *domain.Asset) (*domain.Balance, error) {
	v, ok := c.balances[address+"|"+asset.Contract()]
	if !ok {
		v = big.NewInt(0)
	}
	return &domain.Balance{Address: address, Asset: asset, Amount: v}, nil
}
func (c *balanceChain) SuggestFeeRate(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (c *balanceChain) EstimateTransferUnits(context.Context, *domain.TransferRequest) (uint64, error) {
	return 21000, nil
}
func (c *balanceChain) Send(context.Context, *domain.TransferRequest) (*domain.TransactionResult, error) {
	return nil, fmt.Errorf("not used")
}
func (c *balanceChain) ValidateAddress(string) error { return nil }

type chainList []domain.Chain

func (l chainList) List() []domain.Chain { return l }

type jobSink struct{ jobs []domain.SweepJob }

func (s *jobSink) Enqueue(job domain.SweepJob) bool {
	s.jobs = append(s.jobs, job)
	return true
}

func TestDepositMonitorAudit(t *testing.T) {
	usdt := "0x55d398326f99059ff775485246999027b3197955"
	var bindings listedBindings
	for i := 0; i < 5; i++ {
		bindings = append(bindings, &domain.WalletBinding{
			UserID:      fmt.Sprintf("u%d", i),
			AssetClass:  domain.AssetClassEVM,
			Address:     fmt.Sprintf("0x%040d", i),
			WalletIndex: uint32(i),
		})
	}
	chain := &balanceChain{balances: map[string]*big.Int{
		bindings[1].Address + "|":        big.NewInt(500),
		bindings[4].Address + "|" + usdt: big.NewInt(7),
	}}
	sink := &jobSink{}

	dm := NewDepositMonitor(bindings, chainList{chain}, sink, DepositMonitorConfig{
		PageSize: 2,
		Tokens: map[string][]*domain.Asset{
			"0x38": {{Symbol: "USDT", ContractAddr: &usdt, Decimals: 18, Type: domain.AssetTypeToken}},
		},
		Resweep: true,
	}, nil, zaptest.NewLogger(t))

	funded, err := dm.Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, funded, 2)
	require.Equal(t, "u1", funded[0].Binding.UserID)
	require.Equal(t, "500", funded[0].Amount)
	require.Equal(t, "u4", funded[1].Binding.UserID)
	require.True(t, funded[1].Asset.IsToken())

	require.Len(t, sink.jobs, 2)
	require.Equal(t, uint32(4), sink.jobs[1].WalletIndex)
}

func TestDepositMonitorStopTwice(t *testing.T) {
	dm := NewDepositMonitor(listedBindings{}, chainList{}, nil, DepositMonitorConfig{Interval: time.Hour}, nil, zaptest.NewLogger(t))

	stopped := make(chan struct{})
	go func() {
		dm.Start(context.Background())
		close(stopped)
	}()

	require.NotPanics(t, func() {
		dm.Stop()
		dm.Stop()
	})
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
