package collection

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Registry resolves asset addresses to collections.
type Registry struct {
	mu          sync.RWMutex
	collections map[common.Address]*Collection
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{collections: make(map[common.Address]*Collection)}
}

// Add registers c. Adding a second collection at the same address fails.
func (r *Registry) Add(c *Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.collections[c.Address()]; ok {
		return fmt.Errorf("collection: %s already registered", c.Address().Hex())
	}
	r.collections[c.Address()] = c
	return nil
}

// Get returns the concrete collection at asset.
func (r *Registry) Get(asset common.Address) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[asset]
	if !ok {
		return nil, fmt.Errorf("collection: %s: %w", asset.Hex(), domain.ErrUnknownAsset)
	}
	return c, nil
}

// Collection implements domain.CollectionResolver.
func (r *Registry) Collection(asset common.Address) (domain.AssetRegistry, error) {
	c, err := r.Get(asset)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Addresses returns the registered asset addresses in ascending order.
func (r *Registry) Addresses() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.collections))
	for a := range r.collections {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Compile-time interface check.
var _ domain.CollectionResolver = (*Registry)(nil)
