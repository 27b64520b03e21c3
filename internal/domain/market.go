package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BasisPoints is the denominator for fee and royalty rates.
const BasisPoints = 10_000

// MaxFeeRateBps caps the marketplace fee at 10%.
const MaxFeeRateBps = 1_000

// ItemKey identifies a single token within an asset contract. It is
// comparable and used as a map key by the registries.
type ItemKey struct {
	Asset   common.Address
	TokenID uint256.Int
}

// NewItemKey builds an ItemKey from an asset address and token id.
func NewItemKey(asset common.Address, tokenID *uint256.Int) ItemKey {
	return ItemKey{Asset: asset, TokenID: *tokenID}
}

// Token returns a copy of the token id.
func (k ItemKey) Token() *uint256.Int {
	return k.TokenID.Clone()
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s/%s", k.Asset.Hex(), k.TokenID.Dec())
}

// OfferKey identifies one buyer's offer on one item.
type OfferKey struct {
	Item  ItemKey
	Buyer common.Address
}

// Listing is a seller's standing offer to sell an item at a fixed price.
// A nil or zero Price means "not listed".
type Listing struct {
	Seller   common.Address `json:"seller"`
	Price    *uint256.Int   `json:"price"`
	ListedAt time.Time      `json:"listed_at"`
}

// Active reports whether the listing exists.
func (l Listing) Active() bool {
	return l.Price != nil && !l.Price.IsZero()
}

// Offer is a buyer's escrowed bid on an item.
type Offer struct {
	Buyer     common.Address `json:"buyer"`
	Amount    *uint256.Int   `json:"amount"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Active reports whether the offer exists. Expired offers are still active
// until canceled.
func (o Offer) Active() bool {
	return o.Amount != nil && !o.Amount.IsZero()
}

// Expired reports whether the offer can no longer be accepted at now. The
// expiry instant itself is still acceptable.
func (o Offer) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// FeeConfig is the process-wide marketplace fee configuration.
type FeeConfig struct {
	RateBps   uint16         `json:"rate_bps"`
	Recipient common.Address `json:"recipient"`
}

// Split is the distribution of a sale price across the value legs.
// Fee + Royalty + Seller always equals Price.
type Split struct {
	Price           *uint256.Int   `json:"price"`
	Fee             *uint256.Int   `json:"fee"`
	Royalty         *uint256.Int   `json:"royalty"`
	RoyaltyReceiver common.Address `json:"royalty_receiver"`
	Seller          *uint256.Int   `json:"seller"`
}

// SaleKind distinguishes how a sale was settled.
type SaleKind string

const (
	SaleKindBuy   SaleKind = "buy"
	SaleKindOffer SaleKind = "offer"
)

// Receipt describes a settled sale.
type Receipt struct {
	TxID      string         `json:"tx_id"`
	Kind      SaleKind       `json:"kind"`
	Asset     common.Address `json:"asset"`
	TokenID   *uint256.Int   `json:"token_id"`
	Seller    common.Address `json:"seller"`
	Buyer     common.Address `json:"buyer"`
	Split     Split          `json:"split"`
	Refund    *uint256.Int   `json:"refund"`
	SettledAt time.Time      `json:"settled_at"`
}
