package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gosimple/slug"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/collection"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/ledger"
	"github.com/alanyoungcy/nftmarket/internal/market"
)

// MarketConfig is the public view of the admin configuration.
type MarketConfig struct {
	Owner        common.Address `json:"owner"`
	FeeRateBps   uint16         `json:"fee_rate_bps"`
	FeeRecipient common.Address `json:"fee_recipient"`
	Engine       common.Address `json:"engine"`
}

// MarketService is the entry point used by the transport layer. It queues
// concurrent callers in front of the engine, whose guard rejects rather than
// waits, and records admin changes in the audit log.
type MarketService struct {
	mu     sync.Mutex
	engine *market.Engine
	ledger *ledger.Ledger
	assets *collection.Registry
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	engine *market.Engine,
	ledger *ledger.Ledger,
	assets *collection.Registry,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		engine: engine,
		ledger: ledger,
		assets: assets,
		audit:  audit,
		logger: logger,
	}
}

// Config returns the current admin configuration.
func (s *MarketService) Config() MarketConfig {
	fees := s.engine.Fees()
	return MarketConfig{
		Owner:        s.engine.Owner(),
		FeeRateBps:   fees.RateBps,
		FeeRecipient: fees.Recipient,
		Engine:       s.engine.Address(),
	}
}

// SetFeeRate updates the fee rate.
func (s *MarketService) SetFeeRate(ctx context.Context, caller common.Address, rateBps uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.SetFeeRate(ctx, caller, rateBps); err != nil {
		return err
	}
	s.logAudit(ctx, "fee_rate_updated", map[string]any{
		"caller":       caller.Hex(),
		"fee_rate_bps": rateBps,
	})
	return nil
}

// SetFeeRecipient updates the fee recipient.
func (s *MarketService) SetFeeRecipient(ctx context.Context, caller, recipient common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.SetFeeRecipient(ctx, caller, recipient); err != nil {
		return err
	}
	s.logAudit(ctx, "fee_recipient_updated", map[string]any{
		"caller":        caller.Hex(),
		"fee_recipient": recipient.Hex(),
	})
	return nil
}

// TransferOwnership hands the admin role to newOwner.
func (s *MarketService) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.TransferOwnership(ctx, caller, newOwner); err != nil {
		return err
	}
	s.logAudit(ctx, "ownership_transferred", map[string]any{
		"previous_owner": caller.Hex(),
		"new_owner":      newOwner.Hex(),
	})
	return nil
}

// GetListing returns the listing for an item, or domain.ErrNotListed.
func (s *MarketService) GetListing(asset common.Address, tokenID *uint256.Int) (domain.Listing, error) {
	l := s.engine.GetListing(asset, tokenID)
	if !l.Active() {
		return domain.Listing{}, fmt.Errorf("market_service: get listing %s: %w", domain.NewItemKey(asset, tokenID), domain.ErrNotListed)
	}
	return l, nil
}

// List creates a listing.
func (s *MarketService) List(ctx context.Context, caller, asset common.Address, tokenID, price *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.List(ctx, caller, asset, tokenID, price)
}

// UpdateListing changes a listing's price.
func (s *MarketService) UpdateListing(ctx context.Context, caller, asset common.Address, tokenID, price *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.UpdateListing(ctx, caller, asset, tokenID, price)
}

// CancelListing removes a listing.
func (s *MarketService) CancelListing(ctx context.Context, caller, asset common.Address, tokenID *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.CancelListing(ctx, caller, asset, tokenID)
}

// Buy settles a listing.
func (s *MarketService) Buy(ctx context.Context, caller, asset common.Address, tokenID, paid *uint256.Int) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Buy(ctx, caller, asset, tokenID, paid)
}

// GetOffer returns buyer's offer on an item, or domain.ErrOfferNotFound.
func (s *MarketService) GetOffer(asset common.Address, tokenID *uint256.Int, buyer common.Address) (domain.Offer, error) {
	o := s.engine.GetOffer(asset, tokenID, buyer)
	if !o.Active() {
		return domain.Offer{}, fmt.Errorf("market_service: get offer %s by %s: %w", domain.NewItemKey(asset, tokenID), buyer.Hex(), domain.ErrOfferNotFound)
	}
	return o, nil
}

// MakeOffer escrows a bid.
func (s *MarketService) MakeOffer(ctx context.Context, caller, asset common.Address, tokenID, amount *uint256.Int, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.MakeOffer(ctx, caller, asset, tokenID, amount, expiresAt)
}

// CancelOffer withdraws a bid.
func (s *MarketService) CancelOffer(ctx context.Context, caller, asset common.Address, tokenID *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.CancelOffer(ctx, caller, asset, tokenID)
}

// AcceptOffer settles a bid.
func (s *MarketService) AcceptOffer(ctx context.Context, caller, asset common.Address, tokenID *uint256.Int, buyer common.Address) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.AcceptOffer(ctx, caller, asset, tokenID, buyer)
}

// ApproveItem grants the engine transfer rights over one of caller's items.
func (s *MarketService) ApproveItem(ctx context.Context, caller, asset common.Address, tokenID *uint256.Int) error {
	coll, err := s.assets.Get(asset)
	if err != nil {
		return fmt.Errorf("market_service: approve item: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return coll.Approve(ctx, caller, s.engine.Address(), tokenID)
}

// SetOperator grants or revokes operator rights over all of caller's items
// in asset.
func (s *MarketService) SetOperator(ctx context.Context, caller, asset, operator common.Address, approved bool) error {
	coll, err := s.assets.Get(asset)
	if err != nil {
		return fmt.Errorf("market_service: set operator: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return coll.SetApprovalForAll(ctx, caller, operator, approved)
}

// OwnerOf returns the current owner of an item.
func (s *MarketService) OwnerOf(ctx context.Context, asset common.Address, tokenID *uint256.Int) (common.Address, error) {
	coll, err := s.assets.Get(asset)
	if err != nil {
		return common.Address{}, fmt.Errorf("market_service: owner of: %w", err)
	}
	return coll.OwnerOf(ctx, tokenID)
}

// CollectionInfo describes a registered asset contract.
type CollectionInfo struct {
	Address    common.Address `json:"address"`
	Name       string         `json:"name"`
	Slug       string         `json:"slug"`
	Royalties  bool           `json:"royalties"`
	RoyaltyBps uint16         `json:"royalty_bps,omitempty"`
}

// Collections lists the registered asset contracts in address order.
func (s *MarketService) Collections() []CollectionInfo {
	addrs := s.assets.Addresses()
	out := make([]CollectionInfo, 0, len(addrs))
	for _, addr := range addrs {
		coll, err := s.assets.Get(addr)
		if err != nil {
			continue
		}
		info := CollectionInfo{
			Address:   addr,
			Name:      coll.Name(),
			Slug:      slug.Make(coll.Name()),
			Royalties: coll.SupportsRoyalties(),
		}
		if r := coll.Royalty(); r != nil {
			info.RoyaltyBps = r.RateBps
		}
		out = append(out, info)
	}
	return out
}

// Balance returns the ledger balance of addr.
func (s *MarketService) Balance(addr common.Address) *uint256.Int {
	return s.ledger.BalanceOf(addr)
}

func (s *MarketService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
