// internal/chains/registry.go
package chains

import (
	"fmt"
	"sort"
	"sync"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"
)

// Registry holds one provider per chain id.
type Registry struct {
	chains map[string]domain.Chain
	mu     sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		chains: make(map[string]domain.Chain),
	}
}

// Register adds a chain to registry
func (r *Registry) Register(chain domain.Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[NormalizeChainID(chain.ChainID())] = chain
}

// Get retrieves a chain by id. Decimal and hex ids are both accepted.
func (r *Registry) Get(chainID string) (domain.Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain, ok := r.chains[NormalizeChainID(chainID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", xerrors.ErrUnsupportedChain, chainID)
	}

	return chain, nil
}

// List returns registered chains ordered by id
func (r *Registry) List() []domain.Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]domain.Chain, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.chains[id])
	}
	return out
}

// Close releases RPC connections held by registered chains.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chains {
		if closer, ok := c.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}
