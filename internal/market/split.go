package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

var basisPoints = uint256.NewInt(domain.BasisPoints)

// FeeFor returns floor(price * rateBps / 10000).
func FeeFor(price *uint256.Int, rateBps uint16) *uint256.Int {
	fee, _ := new(uint256.Int).MulDivOverflow(price, uint256.NewInt(uint64(rateBps)), basisPoints)
	return fee
}

// ComputeSplit distributes price across the fee, the royalty and the seller.
// A royalty is only applied when both the amount and the receiver are
// non-zero. It fails with domain.ErrRoyaltyTooHigh when the royalty exceeds
// what remains after the fee.
func ComputeSplit(price *uint256.Int, rateBps uint16, royaltyReceiver common.Address, royalty *uint256.Int) (domain.Split, error) {
	fee := FeeFor(price, rateBps)
	applied := new(uint256.Int)
	receiver := common.Address{}
	if positive(royalty) && royaltyReceiver != (common.Address{}) {
		applied.Set(royalty)
		receiver = royaltyReceiver
	}

	rest := new(uint256.Int).Sub(price, fee)
	if applied.Gt(rest) {
		return domain.Split{}, domain.ErrRoyaltyTooHigh
	}
	return domain.Split{
		Price:           price.Clone(),
		Fee:             fee,
		Royalty:         applied,
		RoyaltyReceiver: receiver,
		Seller:          rest.Sub(rest, applied),
	}, nil
}

// splitFor queries the asset's royalty, if it reports one, and computes the
// split of price.
func splitFor(ctx context.Context, coll domain.AssetRegistry, tokenID, price *uint256.Int, rateBps uint16) (domain.Split, error) {
	var (
		receiver common.Address
		royalty  *uint256.Int
	)
	if rp, ok := coll.(domain.RoyaltyProvider); ok && rp.SupportsRoyalties() {
		r, amount, err := rp.RoyaltyInfo(ctx, tokenID, price)
		if err != nil {
			return domain.Split{}, fmt.Errorf("royalty info: %w", err)
		}
		receiver, royalty = r, amount
	}
	return ComputeSplit(price, rateBps, receiver, royalty)
}
