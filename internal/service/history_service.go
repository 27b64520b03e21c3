package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// HistoryService serves read-model queries: listing and offer projections,
// settled sales and the raw event log.
type HistoryService struct {
	events domain.EventStore
	views  domain.ProjectionStore
	sales  domain.SaleStore
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(events domain.EventStore, views domain.ProjectionStore, sales domain.SaleStore) *HistoryService {
	return &HistoryService{events: events, views: views, sales: sales}
}

// Listings returns the projected listings of an asset.
func (s *HistoryService) Listings(ctx context.Context, asset common.Address, opts domain.ListOpts) ([]domain.ListingView, error) {
	out, err := s.views.ListListings(ctx, asset, opts)
	if err != nil {
		return nil, fmt.Errorf("history_service: listings %s: %w", asset.Hex(), err)
	}
	return out, nil
}

// Offers returns the projected offers on an item.
func (s *HistoryService) Offers(ctx context.Context, item domain.ItemKey, opts domain.ListOpts) ([]domain.OfferView, error) {
	out, err := s.views.ListOffers(ctx, item, opts)
	if err != nil {
		return nil, fmt.Errorf("history_service: offers %s: %w", item, err)
	}
	return out, nil
}

// Sales returns settled sales, most recent first. A non-nil asset narrows
// the result to that asset.
func (s *HistoryService) Sales(ctx context.Context, asset *common.Address, opts domain.ListOpts) ([]domain.Receipt, error) {
	var (
		out []domain.Receipt
		err error
	)
	if asset != nil {
		out, err = s.sales.ListByAsset(ctx, *asset, opts)
	} else {
		out, err = s.sales.ListRecent(ctx, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("history_service: sales: %w", err)
	}
	return out, nil
}

// Events returns the persisted event log.
func (s *HistoryService) Events(ctx context.Context, opts domain.ListOpts) ([]domain.StoredEvent, error) {
	out, err := s.events.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("history_service: events: %w", err)
	}
	return out, nil
}
