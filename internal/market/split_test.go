package market

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/ledger"
)

func TestComputeSplitScenarios(t *testing.T) {
	tests := []struct {
		name       string
		price      string
		rate       uint16
		royalty    string
		receiver   common.Address
		wantFee    string
		wantRoyal  string
		wantSeller string
	}{
		{"fee only", oneUnit, 250, "0", creator, "25000000000000000", "0", "975000000000000000"},
		{"fee and royalty", oneUnit, 250, "50000000000000000", creator, "25000000000000000", "50000000000000000", "925000000000000000"},
		{"royalty without receiver ignored", oneUnit, 250, "50000000000000000", common.Address{}, "25000000000000000", "0", "975000000000000000"},
		{"zero fee", oneUnit, 0, "0", creator, "0", "0", oneUnit},
		{"fee floors", "999", 250, "0", creator, "24", "0", "975"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split, err := ComputeSplit(wei(tt.price), tt.rate, tt.receiver, wei(tt.royalty))
			require.NoError(t, err)
			assert.Equal(t, tt.wantFee, split.Fee.Dec())
			assert.Equal(t, tt.wantRoyal, split.Royalty.Dec())
			assert.Equal(t, tt.wantSeller, split.Seller.Dec())
		})
	}
}

func TestComputeSplitRoyaltyTooHigh(t *testing.T) {
	_, err := ComputeSplit(wei("1000"), 1000, creator, wei("901"))
	require.ErrorIs(t, err, domain.ErrRoyaltyTooHigh)

	split, err := ComputeSplit(wei("1000"), 1000, creator, wei("900"))
	require.NoError(t, err)
	assert.True(t, split.Seller.IsZero())
}

func TestComputeSplitConservesPrice(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		price := new(uint256.Int).SetUint64(rapid.Uint64Range(1, math.MaxUint64).Draw(t, "price"))
		price.Lsh(price, rapid.UintRange(0, 190).Draw(t, "shift"))
		rate := rapid.Uint16Range(0, domain.MaxFeeRateBps).Draw(t, "rate")
		royaltyBps := rapid.Uint64Range(0, domain.BasisPoints).Draw(t, "royalty_bps")
		royalty, _ := new(uint256.Int).MulDivOverflow(price, uint256.NewInt(royaltyBps), uint256.NewInt(domain.BasisPoints))

		split, err := ComputeSplit(price, rate, creator, royalty)
		fee := FeeFor(price, rate)
		if new(uint256.Int).Add(fee, royalty).Gt(price) {
			if err == nil {
				t.Fatalf("expected royalty too high for fee %s royalty %s price %s", fee.Dec(), royalty.Dec(), price.Dec())
			}
			return
		}
		if err != nil {
			t.Fatalf("split: %v", err)
		}
		sum := new(uint256.Int).Add(split.Fee, split.Royalty)
		sum.Add(sum, split.Seller)
		if !sum.Eq(price) {
			t.Fatalf("fee %s + royalty %s + seller %s != price %s", split.Fee.Dec(), split.Royalty.Dec(), split.Seller.Dec(), price.Dec())
		}
	})
}

// TestOfferEscrowMatchesLedger drives random offer traffic and checks that
// the engine's account holds exactly the sum of active offers and that every
// buyer's balance plus their offer equals what they started with.
func TestOfferEscrowMatchesLedger(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, 250, nil)
		buyers := []common.Address{bob, carol}
		start := map[common.Address]*uint256.Int{
			bob:   f.ledger.BalanceOf(bob),
			carol: f.ledger.BalanceOf(carol),
		}

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			buyer := rapid.SampledFrom(buyers).Draw(rt, "buyer")
			token := id(rapid.Uint64Range(1, 3).Draw(rt, "token"))
			if rapid.Bool().Draw(rt, "cancel") {
				err := f.engine.CancelOffer(context.Background(), buyer, assetAddr, token)
				if err != nil && !errors.Is(err, domain.ErrOfferNotFound) {
					rt.Fatalf("cancel offer: %v", err)
				}
			} else {
				amount := uint256.NewInt(rapid.Uint64Range(1, 1_000_000).Draw(rt, "amount"))
				err := f.engine.MakeOffer(context.Background(), buyer, assetAddr, token, amount, f.clock().Add(time.Hour))
				if err != nil {
					rt.Fatalf("make offer: %v", err)
				}
			}
			checkEscrow(rt, f.ledger, f.engine, buyers, start)
		}
		f.drain()
	})
}

func checkEscrow(t *rapid.T, l *ledger.Ledger, e *Engine, buyers []common.Address, start map[common.Address]*uint256.Int) {
	if got, want := l.BalanceOf(engineAddr), e.Escrowed(); !got.Eq(want) {
		t.Fatalf("engine balance %s != escrowed %s", got.Dec(), want.Dec())
	}
	for _, b := range buyers {
		held := new(uint256.Int)
		for n := uint64(1); n <= 3; n++ {
			if o := e.GetOffer(assetAddr, id(n), b); o.Active() {
				held.Add(held, o.Amount)
			}
		}
		total := new(uint256.Int).Add(l.BalanceOf(b), held)
		if !total.Eq(start[b]) {
			t.Fatalf("buyer %s: balance + offers %s != %s", b.Hex(), total.Dec(), start[b].Dec())
		}
	}
}
