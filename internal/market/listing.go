package market

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// GetListing returns the listing for an item. The zero Listing is returned
// when the item is not listed.
func (e *Engine) GetListing(asset common.Address, tokenID *uint256.Int) domain.Listing {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneListing(e.listings[domain.NewItemKey(asset, tokenID)])
}

// List creates a fixed-price listing for an item the caller owns. The engine
// must be approved to transfer the item.
func (e *Engine) List(ctx context.Context, caller, asset common.Address, tokenID, price *uint256.Int) error {
	_, err := e.execute(ctx, "list item", func(ctx context.Context, tx *txn) error {
		coll, err := e.resolve(asset)
		if err != nil {
			return err
		}
		if err := requireOwner(ctx, coll, caller, tokenID); err != nil {
			return err
		}
		key := domain.NewItemKey(asset, tokenID)
		if e.GetListing(asset, tokenID).Active() {
			return domain.ErrAlreadyListed
		}
		if !positive(price) {
			return domain.ErrPriceMustBeAboveZero
		}
		if err := e.requireApproval(ctx, coll, caller, tokenID); err != nil {
			return err
		}

		put(ctx, &e.mu, e.listings, key, domain.Listing{
			Seller:   caller,
			Price:    price.Clone(),
			ListedAt: e.now(),
		})
		tx.emit(domain.ItemListed{
			Seller:  caller,
			Asset:   asset,
			TokenID: tokenID.Clone(),
			Price:   price.Clone(),
		})
		return nil
	})
	return err
}

// CancelListing removes the caller's listing.
func (e *Engine) CancelListing(ctx context.Context, caller, asset common.Address, tokenID *uint256.Int) error {
	_, err := e.execute(ctx, "cancel listing", func(ctx context.Context, tx *txn) error {
		if _, err := e.sellerListing(caller, asset, tokenID); err != nil {
			return err
		}
		remove(ctx, &e.mu, e.listings, domain.NewItemKey(asset, tokenID))
		tx.emit(domain.ItemCanceled{
			Seller:  caller,
			Asset:   asset,
			TokenID: tokenID.Clone(),
		})
		return nil
	})
	return err
}

// UpdateListing changes the price of the caller's listing.
func (e *Engine) UpdateListing(ctx context.Context, caller, asset common.Address, tokenID, newPrice *uint256.Int) error {
	_, err := e.execute(ctx, "update listing", func(ctx context.Context, tx *txn) error {
		listing, err := e.sellerListing(caller, asset, tokenID)
		if err != nil {
			return err
		}
		if !positive(newPrice) {
			return domain.ErrPriceMustBeAboveZero
		}
		listing.Price = newPrice.Clone()
		put(ctx, &e.mu, e.listings, domain.NewItemKey(asset, tokenID), listing)
		tx.emit(domain.PriceUpdated{
			Seller:   caller,
			Asset:    asset,
			TokenID:  tokenID.Clone(),
			NewPrice: newPrice.Clone(),
		})
		return nil
	})
	return err
}

// sellerListing returns the active listing for an item if caller is its
// seller.
func (e *Engine) sellerListing(caller, asset common.Address, tokenID *uint256.Int) (domain.Listing, error) {
	listing := e.GetListing(asset, tokenID)
	if !listing.Active() {
		return domain.Listing{}, domain.ErrNotListed
	}
	if listing.Seller != caller {
		return domain.Listing{}, domain.ErrNotOwner
	}
	return listing, nil
}

func cloneListing(l domain.Listing) domain.Listing {
	if l.Price != nil {
		l.Price = l.Price.Clone()
	}
	return l
}
