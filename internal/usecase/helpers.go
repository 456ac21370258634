// internal/usecase/helpers.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"
)

// Deriver produces the signing credential for a wallet index.
type Deriver interface {
	Derive(index uint32) (*domain.Credential, error)
}

// ChainResolver looks up the provider for a chain id.
type ChainResolver interface {
	Get(chainID string) (domain.Chain, error)
}

// Converter values raw amounts in local currency.
type Converter interface {
	Convert(ctx context.Context, req domain.ConversionRequest) (*domain.Conversion, error)
}

// SweepScheduler accepts sweep jobs without blocking the caller.
type SweepScheduler interface {
	Enqueue(job domain.SweepJob) bool
}

const defaultMaxRetries = 5

// withRetry reruns fn while it fails with a write conflict. Each run must
// start from fresh reads. Exhausting the attempts yields ErrTransient.
func withRetry(ctx context.Context, attempts int, onRetry func(attempt int, err error), fn func() error) error {
	if attempts <= 0 {
		attempts = defaultMaxRetries
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, xerrors.ErrConcurrentModification) {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff(attempt)):
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", xerrors.ErrTransient, attempts, err)
}

func retryBackoff(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * 5 * time.Millisecond
	if d > 250*time.Millisecond {
		d = 250 * time.Millisecond
	}
	return d
}

func nativeAsset(info domain.NetworkInfo) *domain.Asset {
	return &domain.Asset{
		Chain:    info.Name,
		Symbol:   info.Symbol,
		Decimals: info.Decimals,
		Type:     domain.AssetTypeNative,
	}
}
