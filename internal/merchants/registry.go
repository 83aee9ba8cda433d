// Package merchants mints the synthetic merchant pool purchases are drawn from.
package merchants

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-seeder/internal/domain"
	"github.com/dvloznov/finance-seeder/internal/logger"
)

const (
	// DefaultPrefix matches the ids the sandbox demo data has always used.
	DefaultPrefix = "mock_merchant_"

	// ShortPrefix is the alternative id prefix.
	ShortPrefix = "merchant_"

	minSuffix = 10000
	maxSuffix = 99999
)

// Rand is the slice of math/rand/v2's *Rand the registry needs.
type Rand interface {
	IntN(n int) int
}

// Registry is the fixed merchant pool for one run.
type Registry struct {
	merchants []domain.Merchant
	ids       map[string]struct{}
}

// Mint produces n merchants with ids prefix+[10000, 99999] and a uniformly chosen category.
// Id collisions are tolerated: the upstream never treats the id as a uniqueness key.
func Mint(ctx context.Context, r Rand, n int, prefix string) *Registry {
	log := logger.FromContext(ctx)

	if prefix == "" {
		prefix = DefaultPrefix
	}

	reg := &Registry{
		merchants: make([]domain.Merchant, 0, max(n, 0)),
		ids:       make(map[string]struct{}, max(n, 0)),
	}

	for i := 0; i < n; i++ {
		m := domain.Merchant{
			ID:       fmt.Sprintf("%s%d", prefix, minSuffix+r.IntN(maxSuffix-minSuffix+1)),
			Category: domain.Categories[r.IntN(len(domain.Categories))],
		}
		reg.merchants = append(reg.merchants, m)
		reg.ids[m.ID] = struct{}{}

		log.Info().
			Str("merchant_id", m.ID).
			Str("category", string(m.Category)).
			Msg("Simulated merchant")
	}

	return reg
}

// Len returns the pool size, counting colliding ids separately.
func (r *Registry) Len() int {
	return len(r.merchants)
}

// Merchants returns a copy of the pool in mint order.
func (r *Registry) Merchants() []domain.Merchant {
	out := make([]domain.Merchant, len(r.merchants))
	copy(out, r.merchants)
	return out
}

// IDs returns the merchant ids in mint order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.merchants))
	for i, m := range r.merchants {
		out[i] = m.ID
	}
	return out
}

// Contains reports whether id was minted by this registry.
func (r *Registry) Contains(id string) bool {
	_, ok := r.ids[id]
	return ok
}

// Pick returns a merchant chosen uniformly from the pool. The pool must not be empty.
func (r *Registry) Pick(rnd Rand) domain.Merchant {
	return r.merchants[rnd.IntN(len(r.merchants))]
}
