package market

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// GetOffer returns buyer's offer on an item. The zero Offer is returned when
// none exists. Expired offers are returned until canceled.
func (e *Engine) GetOffer(asset common.Address, tokenID *uint256.Int, buyer common.Address) domain.Offer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneOffer(e.offers[offerKey(asset, tokenID, buyer)])
}

// MakeOffer escrows amount from the caller as a bid on an item, valid until
// expiresAt. A previous offer by the same caller on the same item is refunded
// in full and replaced.
func (e *Engine) MakeOffer(ctx context.Context, caller, asset common.Address, tokenID, amount *uint256.Int, expiresAt time.Time) error {
	_, err := e.execute(ctx, "make offer", func(ctx context.Context, tx *txn) error {
		if !positive(amount) {
			return domain.ErrPriceMustBeAboveZero
		}
		if !expiresAt.After(e.now()) {
			return domain.ErrOfferExpired
		}
		if err := tx.collect(ctx, caller, amount); err != nil {
			return err
		}

		key := offerKey(asset, tokenID, caller)
		if prev := e.GetOffer(asset, tokenID, caller); prev.Active() {
			remove(ctx, &e.mu, e.offers, key)
			if err := tx.pay(ctx, caller, prev.Amount); err != nil {
				return err
			}
		}

		put(ctx, &e.mu, e.offers, key, domain.Offer{
			Buyer:     caller,
			Amount:    amount.Clone(),
			ExpiresAt: expiresAt,
		})
		tx.emit(domain.OfferMade{
			Buyer:     caller,
			Asset:     asset,
			TokenID:   tokenID.Clone(),
			Price:     amount.Clone(),
			ExpiresAt: expiresAt,
		})
		return nil
	})
	return err
}

// CancelOffer withdraws the caller's offer and refunds its escrow. Expired
// offers can be canceled.
func (e *Engine) CancelOffer(ctx context.Context, caller, asset common.Address, tokenID *uint256.Int) error {
	_, err := e.execute(ctx, "cancel offer", func(ctx context.Context, tx *txn) error {
		offer := e.GetOffer(asset, tokenID, caller)
		if !offer.Active() {
			return domain.ErrOfferNotFound
		}
		remove(ctx, &e.mu, e.offers, offerKey(asset, tokenID, caller))
		if err := tx.pay(ctx, caller, offer.Amount); err != nil {
			return err
		}
		tx.emit(domain.OfferCanceled{
			Buyer:   caller,
			Asset:   asset,
			TokenID: tokenID.Clone(),
		})
		return nil
	})
	return err
}

// Escrowed returns the total value held for active offers.
func (e *Engine) Escrowed() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	total := new(uint256.Int)
	for _, o := range e.offers {
		if o.Amount != nil {
			total.Add(total, o.Amount)
		}
	}
	return total
}

func offerKey(asset common.Address, tokenID *uint256.Int, buyer common.Address) domain.OfferKey {
	return domain.OfferKey{Item: domain.NewItemKey(asset, tokenID), Buyer: buyer}
}

func cloneOffer(o domain.Offer) domain.Offer {
	if o.Amount != nil {
		o.Amount = o.Amount.Clone()
	}
	return o
}
