package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ReplayGuard implements domain.ReplayGuard with SET NX, so a signed request
// is accepted once across every replica.
type ReplayGuard struct {
	client *Client
}

// NewReplayGuard creates a ReplayGuard backed by the given Client.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{client: c}
}

// Claim records id for ttl. It returns false when id is already recorded.
func (g *ReplayGuard) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := g.client.Underlying().SetNX(ctx, g.client.Key("replay", id), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim %s: %w", id, err)
	}
	return ok, nil
}

// Compile-time interface check.
var _ domain.ReplayGuard = (*ReplayGuard)(nil)
