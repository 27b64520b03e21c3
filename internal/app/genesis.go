package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/nftmarket/internal/collection"
	"github.com/alanyoungcy/nftmarket/internal/config"
	"github.com/alanyoungcy/nftmarket/internal/ledger"
)

// seedGenesis credits the configured balances and builds the collections
// with their initial owners and operator approvals. Values were checked by
// config.Validate, so parse failures here are reported but unexpected.
func seedGenesis(ctx context.Context, g config.GenesisConfig, led *ledger.Ledger) (*collection.Registry, error) {
	for addr, amount := range g.Balances {
		v, err := uint256.FromDecimal(amount)
		if err != nil {
			return nil, fmt.Errorf("genesis: balance %s: %w", addr, err)
		}
		if err := led.Credit(common.HexToAddress(addr), v); err != nil {
			return nil, fmt.Errorf("genesis: credit %s: %w", addr, err)
		}
	}

	reg := collection.NewRegistry()
	for _, gc := range g.Collections {
		var royalty *collection.Royalty
		if gc.RoyaltyBps > 0 {
			royalty = &collection.Royalty{
				Receiver: common.HexToAddress(gc.RoyaltyReceiver),
				RateBps:  uint16(gc.RoyaltyBps),
			}
		}
		coll, err := collection.New(common.HexToAddress(gc.Address), gc.Name, royalty)
		if err != nil {
			return nil, fmt.Errorf("genesis: collection %s: %w", gc.Address, err)
		}
		for _, tok := range gc.Tokens {
			id, err := uint256.FromDecimal(tok.ID)
			if err != nil {
				return nil, fmt.Errorf("genesis: %s token %q: %w", gc.Address, tok.ID, err)
			}
			if err := coll.Mint(common.HexToAddress(tok.Owner), id); err != nil {
				return nil, fmt.Errorf("genesis: %s mint %s: %w", gc.Address, tok.ID, err)
			}
		}
		for _, op := range gc.Operators {
			owner, operator := common.HexToAddress(op.Owner), common.HexToAddress(op.Operator)
			if err := coll.SetApprovalForAll(ctx, owner, operator, true); err != nil {
				return nil, fmt.Errorf("genesis: %s operator %s: %w", gc.Address, op.Operator, err)
			}
		}
		if err := reg.Add(coll); err != nil {
			return nil, fmt.Errorf("genesis: %w", err)
		}
	}
	return reg, nil
}
