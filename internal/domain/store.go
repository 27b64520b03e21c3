package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists the committed event log.
type EventStore interface {
	Append(ctx context.Context, events []Envelope) error
	List(ctx context.Context, opts ListOpts) ([]StoredEvent, error)
	ListBefore(ctx context.Context, before time.Time) ([]StoredEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	LastSeq(ctx context.Context) (int64, error)
}

// ListingView is a listing row in the read model.
type ListingView struct {
	Item    ItemKey
	Listing Listing
}

// OfferView is an offer row in the read model.
type OfferView struct {
	Item  ItemKey
	Offer Offer
}

// ProjectionStore maintains query-friendly copies of the registries, derived
// from committed events.
type ProjectionStore interface {
	Apply(ctx context.Context, env Envelope) error
	// Reset clears the read model. The engine state it mirrors is rebuilt
	// from genesis on every start.
	Reset(ctx context.Context) error
	ListListings(ctx context.Context, asset common.Address, opts ListOpts) ([]ListingView, error)
	ListOffers(ctx context.Context, item ItemKey, opts ListOpts) ([]OfferView, error)
}

// SaleStore persists settlement receipts.
type SaleStore interface {
	Insert(ctx context.Context, r Receipt) error
	ListRecent(ctx context.Context, opts ListOpts) ([]Receipt, error)
	ListByAsset(ctx context.Context, asset common.Address, opts ListOpts) ([]Receipt, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
