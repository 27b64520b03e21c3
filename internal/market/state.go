package market

import (
	"context"
	"sync"

	"github.com/alanyoungcy/nftmarket/internal/journal"
)

// put stores v under key and journals the previous entry.
func put[K comparable, V any](ctx context.Context, mu *sync.RWMutex, m map[K]V, key K, v V) {
	mu.Lock()
	prev, had := m[key]
	m[key] = v
	mu.Unlock()
	journal.Record(ctx, restore(mu, m, key, prev, had))
}

// remove deletes key and journals the previous entry.
func remove[K comparable, V any](ctx context.Context, mu *sync.RWMutex, m map[K]V, key K) {
	mu.Lock()
	prev, had := m[key]
	delete(m, key)
	mu.Unlock()
	journal.Record(ctx, restore(mu, m, key, prev, had))
}

func restore[K comparable, V any](mu *sync.RWMutex, m map[K]V, key K, prev V, had bool) func() {
	return func() {
		mu.Lock()
		defer mu.Unlock()
		if had {
			m[key] = prev
		} else {
			delete(m, key)
		}
	}
}

// set assigns v to *field under mu and journals the previous value.
func set[T any](ctx context.Context, mu *sync.RWMutex, field *T, v T) {
	mu.Lock()
	prev := *field
	*field = v
	mu.Unlock()
	journal.Record(ctx, func() {
		mu.Lock()
		*field = prev
		mu.Unlock()
	})
}
