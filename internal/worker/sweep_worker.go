// internal/worker/sweep_worker.go
package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/internal/metrics"

	"go.uber.org/zap"
)

// Sweeper performs a single sweep attempt.
type Sweeper interface {
	Sweep(ctx context.Context, job domain.SweepJob) (*domain.SweepResult, error)
}

// SweepWorker runs sweeps on a fixed pool fed by a buffered queue. Enqueue
// never blocks: a full queue drops the job and the next deposit to the address
// triggers it again.
type SweepWorker struct {
	sweeper  Sweeper
	queue    chan domain.SweepJob
	workers  int
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	pending map[string]bool
	running map[string]*addrLock
}

// addrLock serializes sweeps of one address. refs counts the workers holding
// or waiting on it; the entry is dropped when it reaches zero.
type addrLock struct {
	mu   sync.Mutex
	refs int
}

func NewSweepWorker(
	sweeper Sweeper,
	workers, queueSize int,
	timeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SweepWorker {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &SweepWorker{
		sweeper:  sweeper,
		queue:    make(chan domain.SweepJob, queueSize),
		workers:  workers,
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
		stopChan: make(chan struct{}),
		pending:  make(map[string]bool),
		running:  make(map[string]*addrLock),
	}
}

func jobKey(job domain.SweepJob) string {
	return strings.ToLower(job.ChainID + "|" + job.Address + "|" + job.Asset.Contract())
}

func addressKey(job domain.SweepJob) string {
	return strings.ToLower(job.ChainID + "|" + job.Address)
}

// Enqueue queues a sweep. A job already waiting for the same address and
// asset absorbs the new one. It reports false when the job was dropped.
func (sw *SweepWorker) Enqueue(job domain.SweepJob) bool {
	select {
	case <-sw.stopChan:
		return false
	default:
	}

	key := jobKey(job)
	sw.mu.Lock()
	if sw.pending[key] {
		sw.mu.Unlock()
		return true
	}
	sw.pending[key] = true
	sw.mu.Unlock()

	select {
	case sw.queue <- job:
		sw.metrics.SetSweepQueueDepth(len(sw.queue))
		return true
	default:
		sw.mu.Lock()
		delete(sw.pending, key)
		sw.mu.Unlock()
		sw.logger.Warn("Sweep queue full, dropping job",
			zap.String("chain_id", job.ChainID),
			zap.String("address", job.Address),
			zap.Int("capacity", cap(sw.queue)))
		return false
	}
}

// Start runs the pool until ctx is cancelled or Stop is called. Jobs still
// queued at that point are abandoned.
func (sw *SweepWorker) Start(ctx context.Context) {
	sw.logger.Info("Starting sweep worker",
		zap.Int("workers", sw.workers),
		zap.Int("queue", cap(sw.queue)))

	var wg sync.WaitGroup
	for i := 0; i < sw.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sw.run(ctx)
		}()
	}
	wg.Wait()
	sw.logger.Info("Sweep worker stopped")
}

func (sw *SweepWorker) run(ctx context.Context) {
	for {
		select {
		case job := <-sw.queue:
			sw.metrics.SetSweepQueueDepth(len(sw.queue))
			sw.process(ctx, job)

		case <-sw.stopChan:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (sw *SweepWorker) process(ctx context.Context, job domain.SweepJob) {
	// one sweep per address at a time; they share the address nonce
	lock := sw.acquire(job)
	defer sw.release(job, lock)

	sweepCtx, cancel := context.WithTimeout(ctx, sw.timeout)
	defer cancel()

	res, err := sw.sweeper.Sweep(sweepCtx, job)
	if err != nil {
		sw.logger.Debug("sweep attempt finished with error",
			zap.String("address", job.Address),
			zap.String("status", statusOf(res)),
			zap.Error(err))
	}
}

func (sw *SweepWorker) acquire(job domain.SweepJob) *addrLock {
	key := addressKey(job)
	sw.mu.Lock()
	delete(sw.pending, jobKey(job))
	lock, ok := sw.running[key]
	if !ok {
		lock = &addrLock{}
		sw.running[key] = lock
	}
	lock.refs++
	sw.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (sw *SweepWorker) release(job domain.SweepJob, lock *addrLock) {
	lock.mu.Unlock()

	sw.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(sw.running, addressKey(job))
	}
	sw.mu.Unlock()
}

func statusOf(res *domain.SweepResult) string {
	if res == nil {
		return ""
	}
	return string(res.Status)
}

// Stop stops the workers
func (sw *SweepWorker) Stop() {
	sw.stopOnce.Do(func() { close(sw.stopChan) })
}
