package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind names a marketplace event.
type EventKind string

const (
	KindItemListed           EventKind = "ItemListed"
	KindItemCanceled         EventKind = "ItemCanceled"
	KindPriceUpdated         EventKind = "PriceUpdated"
	KindItemBought           EventKind = "ItemBought"
	KindOfferMade            EventKind = "OfferMade"
	KindOfferCanceled        EventKind = "OfferCanceled"
	KindOfferAccepted        EventKind = "OfferAccepted"
	KindFeeUpdated           EventKind = "FeeUpdated"
	KindFeeRecipientUpdated  EventKind = "FeeRecipientUpdated"
	KindOwnershipTransferred EventKind = "OwnershipTransferred"
)

// Event is implemented by every marketplace event payload.
type Event interface {
	Kind() EventKind
}

type ItemListed struct {
	Seller  common.Address `json:"seller"`
	Asset   common.Address `json:"asset"`
	TokenID *uint256.Int   `json:"token_id"`
	Price   *uint256.Int   `json:"price"`
}

type ItemCanceled struct {
	Seller  common.Address `json:"seller"`
	Asset   common.Address `json:"asset"`
	TokenID *uint256.Int   `json:"token_id"`
}

type PriceUpdated struct {
	Seller   common.Address `json:"seller"`
	Asset    common.Address `json:"asset"`
	TokenID  *uint256.Int   `json:"token_id"`
	NewPrice *uint256.Int   `json:"new_price"`
}

type ItemBought struct {
	Buyer   common.Address `json:"buyer"`
	Asset   common.Address `json:"asset"`
	TokenID *uint256.Int   `json:"token_id"`
	Price   *uint256.Int   `json:"price"`
}

type OfferMade struct {
	Buyer     common.Address `json:"buyer"`
	Asset     common.Address `json:"asset"`
	TokenID   *uint256.Int   `json:"token_id"`
	Price     *uint256.Int   `json:"price"`
	ExpiresAt time.Time      `json:"expires_at"`
}

type OfferCanceled struct {
	Buyer   common.Address `json:"buyer"`
	Asset   common.Address `json:"asset"`
	TokenID *uint256.Int   `json:"token_id"`
}

type OfferAccepted struct {
	Seller  common.Address `json:"seller"`
	Buyer   common.Address `json:"buyer"`
	Asset   common.Address `json:"asset"`
	TokenID *uint256.Int   `json:"token_id"`
	Price   *uint256.Int   `json:"price"`
}

type FeeUpdated struct {
	NewFee uint16 `json:"new_fee"`
}

type FeeRecipientUpdated struct {
	NewRecipient common.Address `json:"new_recipient"`
}

type OwnershipTransferred struct {
	PreviousOwner common.Address `json:"previous_owner"`
	NewOwner      common.Address `json:"new_owner"`
}

func (ItemListed) Kind() EventKind           { return KindItemListed }
func (ItemCanceled) Kind() EventKind         { return KindItemCanceled }
func (PriceUpdated) Kind() EventKind         { return KindPriceUpdated }
func (ItemBought) Kind() EventKind           { return KindItemBought }
func (OfferMade) Kind() EventKind            { return KindOfferMade }
func (OfferCanceled) Kind() EventKind        { return KindOfferCanceled }
func (OfferAccepted) Kind() EventKind        { return KindOfferAccepted }
func (FeeUpdated) Kind() EventKind           { return KindFeeUpdated }
func (FeeRecipientUpdated) Kind() EventKind  { return KindFeeRecipientUpdated }
func (OwnershipTransferred) Kind() EventKind { return KindOwnershipTransferred }

// Envelope wraps a committed event with its position in the engine's log.
// Seq is strictly increasing across all committed transactions.
type Envelope struct {
	Seq     uint64    `json:"seq"`
	TxID    string    `json:"tx_id"`
	Kind    EventKind `json:"kind"`
	At      time.Time `json:"at"`
	Payload Event     `json:"payload"`
	// Receipt is set on the last envelope of a settling transaction.
	Receipt *Receipt `json:"receipt,omitempty"`
}

// StoredEvent is an event as persisted in the event log.
type StoredEvent struct {
	Seq     int64           `json:"seq"`
	TxID    string          `json:"tx_id"`
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}
