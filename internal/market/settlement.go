package market

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Buy purchases a listed item at its listing price. paid is pulled from the
// caller; any amount above the price is refunded. The listing is removed
// before the asset and value legs run.
func (e *Engine) Buy(ctx context.Context, caller, asset common.Address, tokenID, paid *uint256.Int) (*domain.Receipt, error) {
	tx, err := e.execute(ctx, "buy", func(ctx context.Context, tx *txn) error {
		fees := e.Fees()

		listing := e.GetListing(asset, tokenID)
		if !listing.Active() {
			return domain.ErrNotListed
		}
		if listing.Seller == caller {
			return domain.ErrCannotBuyOwnNFT
		}
		if paid == nil || paid.Lt(listing.Price) {
			return domain.ErrInsufficientValue
		}
		coll, err := e.resolve(asset)
		if err != nil {
			return err
		}

		remove(ctx, &e.mu, e.listings, domain.NewItemKey(asset, tokenID))
		if err := tx.collect(ctx, caller, paid); err != nil {
			return err
		}

		split, err := splitFor(ctx, coll, tokenID, listing.Price, fees.RateBps)
		if err != nil {
			return err
		}
		refund := new(uint256.Int).Sub(paid, listing.Price)

		if err := coll.SafeTransferFrom(ctx, e.self, listing.Seller, caller, tokenID); err != nil {
			return err
		}
		if err := e.disburse(ctx, tx, split, fees.Recipient, listing.Seller); err != nil {
			return err
		}
		if err := tx.pay(ctx, caller, refund); err != nil {
			return err
		}

		tx.receipt = &domain.Receipt{
			TxID:      tx.id,
			Kind:      domain.SaleKindBuy,
			Asset:     asset,
			TokenID:   tokenID.Clone(),
			Seller:    listing.Seller,
			Buyer:     caller,
			Split:     split,
			Refund:    refund,
			SettledAt: e.now(),
		}
		tx.emit(domain.ItemBought{
			Buyer:   caller,
			Asset:   asset,
			TokenID: tokenID.Clone(),
			Price:   listing.Price.Clone(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logSale(ctx, tx.receipt)
	return tx.receipt, nil
}

// AcceptOffer sells an item the caller owns to buyer at buyer's escrowed
// offer amount. The offer is removed before the asset and value legs run.
func (e *Engine) AcceptOffer(ctx context.Context, caller, asset common.Address, tokenID *uint256.Int, buyer common.Address) (*domain.Receipt, error) {
	tx, err := e.execute(ctx, "accept offer", func(ctx context.Context, tx *txn) error {
		fees := e.Fees()

		coll, err := e.resolve(asset)
		if err != nil {
			return err
		}
		if err := requireOwner(ctx, coll, caller, tokenID); err != nil {
			return err
		}
		if err := e.requireApproval(ctx, coll, caller, tokenID); err != nil {
			return err
		}
		offer := e.GetOffer(asset, tokenID, buyer)
		if !offer.Active() {
			return domain.ErrOfferNotFound
		}
		if offer.Expired(e.now()) {
			return domain.ErrOfferExpired
		}

		remove(ctx, &e.mu, e.offers, offerKey(asset, tokenID, buyer))

		split, err := splitFor(ctx, coll, tokenID, offer.Amount, fees.RateBps)
		if err != nil {
			return err
		}
		if err := coll.SafeTransferFrom(ctx, e.self, caller, buyer, tokenID); err != nil {
			return err
		}
		if err := e.disburse(ctx, tx, split, fees.Recipient, caller); err != nil {
			return err
		}

		tx.receipt = &domain.Receipt{
			TxID:      tx.id,
			Kind:      domain.SaleKindOffer,
			Asset:     asset,
			TokenID:   tokenID.Clone(),
			Seller:    caller,
			Buyer:     buyer,
			Split:     split,
			Refund:    new(uint256.Int),
			SettledAt: e.now(),
		}
		tx.emit(domain.OfferAccepted{
			Seller:  caller,
			Buyer:   buyer,
			Asset:   asset,
			TokenID: tokenID.Clone(),
			Price:   offer.Amount.Clone(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logSale(ctx, tx.receipt)
	return tx.receipt, nil
}

// disburse pays the royalty, fee and seller legs of split in that order.
func (e *Engine) disburse(ctx context.Context, tx *txn, split domain.Split, feeRecipient, seller common.Address) error {
	if err := tx.pay(ctx, split.RoyaltyReceiver, split.Royalty); err != nil {
		return err
	}
	if err := tx.pay(ctx, feeRecipient, split.Fee); err != nil {
		return err
	}
	return tx.pay(ctx, seller, split.Seller)
}

func (e *Engine) logSale(ctx context.Context, r *domain.Receipt) {
	e.logger.InfoContext(ctx, "sale settled",
		slog.String("tx_id", r.TxID),
		slog.String("kind", string(r.Kind)),
		slog.String("asset", r.Asset.Hex()),
		slog.String("token_id", r.TokenID.Dec()),
		slog.String("seller", r.Seller.Hex()),
		slog.String("buyer", r.Buyer.Hex()),
		slog.String("price", r.Split.Price.Dec()),
		slog.String("fee", r.Split.Fee.Dec()),
		slog.String("royalty", r.Split.Royalty.Dec()),
	)
}
